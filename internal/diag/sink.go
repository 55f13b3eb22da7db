// Package diag implements the executor's diagnostic sink: formatted
// log lines with source position, mirrored to stderr and, in the
// parent process only, enqueued as outbound log frames.
package diag

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// FrameSink is the minimal surface diag needs from the reactor to
// enqueue a log frame. It is satisfied by the engine's outbound
// encoder; kept as an interface here so this package never imports
// reactor or protocol (avoiding an import cycle back from reactor,
// which does call into diag on a protocol violation).
type FrameSink interface {
	// EnqueueLog best-effort writes a log frame. tableID is nil for
	// engine-level diagnostics. Returns false if the frame could not
	// be written (e.g. outbound buffer has no room); the caller
	// abandons silently, per the wire protocol's log sink contract.
	EnqueueLog(tableID *uint8, nowNs uint64, text string) bool
}

// Sink formats and routes diagnostics. Construct one per engine.
type Sink struct {
	Stderr   io.Writer
	Frames   FrameSink // nil disables frame emission (e.g. in a forked child)
	StartPID int
	NowNs    func() uint64
}

// NewSink returns a Sink writing to os.Stderr with frame emission
// disabled until SetFrameSink is called once the outbound encoder
// exists.
func NewSink(startPID int, nowNs func() uint64) *Sink {
	return &Sink{Stderr: os.Stderr, StartPID: startPID, NowNs: nowNs}
}

// SetFrameSink wires the outbound encoder in after construction, since
// the engine's buffers and the sink are built in opposite dependency
// orders.
func (s *Sink) SetFrameSink(f FrameSink) {
	s.Frames = f
}

// Logf formats "[file:func:line] msg\n", the Go analogue of
// __FILE__/__func__/__LINE__, writes it to stderr, and — only when the
// calling process is the one that started the engine — enqueues it as
// a log frame. tableID is nil for engine-level diagnostics (vs. a
// specific child's).
func (s *Sink) Logf(tableID *uint8, format string, args ...any) {
	_, file, line, ok := runtime.Caller(1)
	fn := "?"
	if pc, _, _, ok2 := runtime.Caller(1); ok2 {
		if f := runtime.FuncForPC(pc); f != nil {
			fn = f.Name()
		}
	}
	if !ok {
		file, line = "?", 0
	}
	msg := fmt.Sprintf(format, args...)
	line1 := fmt.Sprintf("[%s:%s:%d] %s\n", file, fn, line, msg)
	fmt.Fprint(s.Stderr, line1)

	if os.Getpid() != s.StartPID || s.Frames == nil {
		return
	}
	s.Frames.EnqueueLog(tableID, s.NowNs(), line1)
}
