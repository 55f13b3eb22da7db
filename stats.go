package ltx

import (
	"sync/atomic"
	"time"

	"github.com/cdent/ltx/internal/interfaces"
)

// Stats tracks operational counters for a running engine. There is no
// I/O size or latency histogram here: exec/get_file are one-shot
// events, not a steady block-I/O workload.
type Stats struct {
	FramesIn  atomic.Uint64
	FramesOut atomic.Uint64

	ChildrenExecd atomic.Uint64
	ChildrenExited atomic.Uint64

	BytesTransferred atomic.Uint64
	BackpressureHits atomic.Uint64

	StartTime atomic.Int64
}

// NewStats returns a Stats instance stamped with the current time.
func NewStats() *Stats {
	s := &Stats{}
	s.StartTime.Store(time.Now().UnixNano())
	return s
}

// Snapshot is a point-in-time copy of Stats, safe to read without
// racing the engine's hot path.
type Snapshot struct {
	FramesIn         uint64
	FramesOut        uint64
	ChildrenExecd    uint64
	ChildrenExited   uint64
	BytesTransferred uint64
	BackpressureHits uint64
	UptimeNs         uint64
}

// Snapshot takes a consistent-enough snapshot for reporting; each
// field is read independently, which is fine since every counter here
// is monotonic.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FramesIn:         s.FramesIn.Load(),
		FramesOut:        s.FramesOut.Load(),
		ChildrenExecd:    s.ChildrenExecd.Load(),
		ChildrenExited:   s.ChildrenExited.Load(),
		BytesTransferred: s.BytesTransferred.Load(),
		BackpressureHits: s.BackpressureHits.Load(),
		UptimeNs:         uint64(time.Now().UnixNano() - s.StartTime.Load()),
	}
}

// StatsObserver implements interfaces.Observer by recording every
// callback into a Stats instance.
type StatsObserver struct {
	stats *Stats
}

// NewStatsObserver returns an Observer that records into stats.
func NewStatsObserver(stats *Stats) *StatsObserver {
	return &StatsObserver{stats: stats}
}

func (o *StatsObserver) ObserveFrameIn(uint8)    { o.stats.FramesIn.Add(1) }
func (o *StatsObserver) ObserveFrameOut(uint8)   { o.stats.FramesOut.Add(1) }
func (o *StatsObserver) ObserveChildExec(uint8)  { o.stats.ChildrenExecd.Add(1) }
func (o *StatsObserver) ObserveChildExit(uint8)  { o.stats.ChildrenExited.Add(1) }
func (o *StatsObserver) ObserveBackpressure()    { o.stats.BackpressureHits.Add(1) }
func (o *StatsObserver) ObserveBytesTransferred(n uint64) {
	o.stats.BytesTransferred.Add(n)
}

// NoOpObserver discards every callback; used when a caller doesn't
// want stats overhead.
type NoOpObserver struct{}

func (NoOpObserver) ObserveFrameIn(uint8)            {}
func (NoOpObserver) ObserveFrameOut(uint8)           {}
func (NoOpObserver) ObserveChildExec(uint8)          {}
func (NoOpObserver) ObserveChildExit(uint8)          {}
func (NoOpObserver) ObserveBackpressure()            {}
func (NoOpObserver) ObserveBytesTransferred(uint64)  {}

var (
	_ interfaces.Observer = (*StatsObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
