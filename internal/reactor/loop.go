package reactor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cdent/ltx/internal/child"
	"github.com/cdent/ltx/internal/constants"
	"github.com/cdent/ltx/internal/diag"
	"github.com/cdent/ltx/internal/interfaces"
	"github.com/cdent/ltx/internal/protocol"
	"github.com/cdent/ltx/internal/reaper"
	"github.com/cdent/ltx/internal/xfer"
)

// SourceKind tags the kind of fd a readiness event belongs to.
type SourceKind int

const (
	SourceData SourceKind = iota
	SourceChild
	SourceSignal
)

// Source identifies what a registered fd represents, so the loop can
// dispatch an epoll event to the right handler without a second lookup
// into the child table for every event.
type Source struct {
	Kind    SourceKind
	TableID uint8
	Fd      int
}

// Loop is the single-threaded reactor: it owns the inbound/outbound
// buffers, the child table, and every registered fd, and runs the
// dispatch-drain-parse-drain cycle from wait to wait.
type Loop struct {
	Poller Poller

	StdinFd  int
	StdoutFd int
	SigFd    int

	Table  *child.Table
	Execer child.Execer

	Logger   interfaces.Logger
	Observer interfaces.Observer
	Sink     *diag.Sink

	Inbound  *protocol.Buffer
	Outbound *protocol.Buffer

	NowNs func() uint64

	sources         map[int]Source
	outboundBlocked bool
	terminate       bool
}

// NewLoop wires a Loop from its constructed dependencies. Both buffers
// are sized at constants.BufSize; ltx.New replaces them with buffers of
// Options.BufSize.
func NewLoop(poller Poller, stdinFd, stdoutFd, sigFd int, table *child.Table, execer child.Execer, logger interfaces.Logger, observer interfaces.Observer, sink *diag.Sink, nowNs func() uint64) *Loop {
	l := &Loop{
		Poller:   poller,
		StdinFd:  stdinFd,
		StdoutFd: stdoutFd,
		SigFd:    sigFd,
		Table:    table,
		Execer:   execer,
		Logger:   logger,
		Observer: observer,
		Sink:     sink,
		Inbound:  protocol.NewBuffer(constants.BufSize),
		Outbound: protocol.NewBuffer(constants.BufSize),
		NowNs:    nowNs,
		sources:  make(map[int]Source),
	}
	sink.SetFrameSink(l)
	return l
}

// Register adds the fixed, long-lived event sources: stdin, stdout,
// and the signal channel. Child output pipes register themselves as
// each exec succeeds.
func (l *Loop) Register() error {
	if err := l.Poller.Add(l.StdinFd, unix.EPOLLIN); err != nil {
		return fmt.Errorf("reactor: register stdin: %w", err)
	}
	l.sources[l.StdinFd] = Source{Kind: SourceData, Fd: l.StdinFd}

	if err := l.Poller.AddEdgeTriggered(l.StdoutFd, unix.EPOLLOUT); err != nil {
		return fmt.Errorf("reactor: register stdout: %w", err)
	}
	l.sources[l.StdoutFd] = Source{Kind: SourceData, Fd: l.StdoutFd}

	if err := l.Poller.Add(l.SigFd, unix.EPOLLIN); err != nil {
		return fmt.Errorf("reactor: register sigfd: %w", err)
	}
	l.sources[l.SigFd] = Source{Kind: SourceSignal, Fd: l.SigFd}
	return nil
}

// EnqueueLog implements diag.FrameSink: it writes a log frame to the
// outbound buffer if there's room, matching the wire protocol's
// best-effort log-frame contract (abandon silently rather than block
// or grow).
func (l *Loop) EnqueueLog(tableID *uint8, nowNs uint64, text string) bool {
	need := 1 + 1 + 1 + 9 + 5 + len(text) // generous upper bound on header bytes
	if l.Outbound.Avail() < need {
		return false
	}
	protocol.EncodeLog(l.Outbound, tableID, nowNs, text)
	return true
}

// RunOnce executes exactly one iteration of the dispatch cycle: wait
// for readiness (bounded by the idle budget), dispatch every event,
// drain outbound, parse as many complete inbound frames as are
// buffered, drain outbound again. It returns (shouldStop, err); err is
// always fatal when non-nil.
func (l *Loop) RunOnce() (stop bool, err error) {
	events, err := l.Poller.Wait(int(constants.IdleTimeout.Milliseconds()))
	if err != nil {
		return false, err
	}

	for _, ev := range events {
		if err := l.dispatch(ev); err != nil {
			return false, err
		}
		if l.terminate {
			return true, nil
		}
	}

	l.drainOutbound()

	for l.Inbound.Used() >= 2 {
		consumed, err := l.parseOne()
		if err != nil {
			return false, err
		}
		if consumed == 0 {
			break
		}
	}

	l.drainOutbound()
	return l.terminate, nil
}

func (l *Loop) dispatch(ev Event) error {
	src, ok := l.sources[ev.Fd]
	if !ok {
		// A child output fd that was already removed; epoll can still
		// report a queued event for an fd removed mid-batch.
		return nil
	}
	switch src.Kind {
	case SourceData:
		if ev.Fd == l.StdinFd {
			return l.handleInboundReadable(ev)
		}
		return l.handleOutboundWritable(ev)
	case SourceChild:
		return l.handleChildOutput(src, ev)
	case SourceSignal:
		return l.handleSignal()
	}
	return nil
}

func (l *Loop) handleInboundReadable(ev Event) error {
	if ev.Events&unix.EPOLLHUP != 0 {
		l.terminate = true
		return nil
	}
	if ev.Events&unix.EPOLLIN == 0 {
		return nil
	}
	n, err := unix.Read(l.StdinFd, l.Inbound.Tail())
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		return fmt.Errorf("reactor: read stdin: %w", err)
	}
	if n == 0 {
		l.terminate = true
		return nil
	}
	l.Inbound.Fill(n)
	return nil
}

func (l *Loop) handleOutboundWritable(ev Event) error {
	if ev.Events&unix.EPOLLHUP != 0 {
		l.terminate = true
		return nil
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		l.outboundBlocked = false
	}
	return nil
}

func (l *Loop) handleSignal() error {
	results, err := reaper.Drain(l.SigFd, l.Table, l.NowNs)
	if err != nil {
		if l.Sink != nil {
			l.Sink.Fatal(err)
		}
		return err
	}
	for _, r := range results {
		need := 1 + 1 + 9 + 9 + 5 + 5
		if l.Outbound.Avail() < need {
			l.drainOutbound()
		}
		protocol.EncodeResult(l.Outbound, r.TableID, r.NowNs, r.SiCode, r.SiStatus)
		l.observeFrameOut(protocol.MsgResult)
		if l.Observer != nil {
			l.Observer.ObserveChildExit(r.TableID)
		}
		// reaper.Drain already called Table.MarkReaped for r.TableID while
		// matching the siginfo batch to its slot; calling it again here
		// would re-set a slot that Drain may have just released back to
		// empty.
	}
	return nil
}

func (l *Loop) handleChildOutput(src Source, ev Event) error {
	hungUp := ev.Events&unix.EPOLLERR != 0
	if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP) != 0 {
		buf := make([]byte, constants.ChildReadChunk)
		n, err := unix.Read(src.Fd, buf)
		if err != nil && err != unix.EAGAIN {
			return fmt.Errorf("reactor: read child output fd=%d: %w", src.Fd, err)
		}
		if n > 0 {
			l.emitChildLog(src.TableID, buf[:n])
		}
		if n == 0 && err == nil {
			hungUp = true
		}
	}
	if hungUp {
		_ = l.Poller.Remove(src.Fd)
		unix.Close(src.Fd)
		delete(l.sources, src.Fd)
		l.Table.MarkEOF(src.TableID)
	}
	return nil
}

func (l *Loop) emitChildLog(tableID uint8, data []byte) {
	need := 1 + 1 + 1 + 9 + 5 + len(data)
	if l.Outbound.Avail() < need {
		l.drainOutbound()
	}
	id := tableID
	protocol.EncodeLog(l.Outbound, &id, l.NowNs(), string(data))
	l.observeFrameOut(protocol.MsgLog)
	if l.Observer != nil {
		l.Observer.ObserveBytesTransferred(uint64(len(data)))
	}
	l.maybeBackpressureDrain()
}

// maybeBackpressureDrain issues an opportunistic drain when the
// outbound buffer has crossed the backpressure threshold mid-emission.
func (l *Loop) maybeBackpressureDrain() {
	if l.Outbound.Used()*constants.BackpressureFraction > l.Outbound.Cap() {
		if l.Observer != nil {
			l.Observer.ObserveBackpressure()
		}
		l.drainOutbound()
	}
}

func (l *Loop) drainOutbound() {
	if l.outboundBlocked || l.Outbound.Used() == 0 {
		return
	}
	n, err := unix.Write(l.StdoutFd, l.Outbound.Start())
	if err != nil {
		if err == unix.EAGAIN {
			l.outboundBlocked = true
			_ = l.Poller.ModOut(l.StdoutFd, true)
			return
		}
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: write stdout: %w", err))
		}
		return
	}
	l.Outbound.Consume(n)
}

// parseOne attempts to decode and handle exactly one frame from the
// inbound buffer. It returns consumed=0 when the buffered bytes form a
// genuine half-frame: the caller must stop and wait for more input. A
// *protocol.ProtocolError panic from the decoder is recovered here and
// turned into a fatal exit, since every protocol violation is fatal.
func (l *Loop) parseOne() (consumed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if protoErr, ok := r.(*protocol.ProtocolError); ok {
				if l.Sink != nil {
					l.Sink.Fatal(protoErr)
				}
				err = protoErr
				return
			}
			panic(r)
		}
	}()

	msg, n, ok := protocol.DecodeNext(l.Inbound.Start())
	if !ok {
		return 0, nil
	}

	switch m := msg.(type) {
	case protocol.PingMsg:
		l.observeFrameIn(protocol.MsgPing)
		l.handlePing()
	case protocol.ExecMsg:
		l.observeFrameIn(protocol.MsgExec)
		l.handleExec(m)
	case protocol.GetFileMsg:
		l.observeFrameIn(protocol.MsgGetFile)
		l.handleGetFile(m)
	}
	l.maybeBackpressureDrain()

	l.Inbound.Consume(n)
	return n, nil
}

func (l *Loop) observeFrameIn(t protocol.MsgType) {
	if l.Observer != nil {
		l.Observer.ObserveFrameIn(uint8(t))
	}
}

func (l *Loop) observeFrameOut(t protocol.MsgType) {
	if l.Observer != nil {
		l.Observer.ObserveFrameOut(uint8(t))
	}
}

func (l *Loop) handlePing() {
	protocol.EncodePingEcho(l.Outbound)
	l.observeFrameOut(protocol.MsgPing)
	protocol.EncodePong(l.Outbound, l.NowNs())
	l.observeFrameOut(protocol.MsgPong)
}

func (l *Loop) handleExec(m protocol.ExecMsg) {
	fd, err := child.Exec(l.Table, l.Execer, l.Logger, m.TableID, m.Path)
	if err != nil {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: exec table_id=%d: %w", m.TableID, err))
		}
		return
	}
	if err := l.Poller.Add(fd, unix.EPOLLOUT); err != nil {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: register child output fd=%d: %w", fd, err))
		}
		return
	}
	l.sources[fd] = Source{Kind: SourceChild, TableID: m.TableID, Fd: fd}
	protocol.EncodeExecEcho(l.Outbound, m.TableID, m.Path)
	l.observeFrameOut(protocol.MsgExec)
	if l.Observer != nil {
		l.Observer.ObserveChildExec(m.TableID)
	}
}

func (l *Loop) handleGetFile(m protocol.GetFileMsg) {
	f, err := os.Open(m.Path)
	if err != nil {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: open %q: %w", m.Path, err))
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: stat %q: %w", m.Path, err))
		}
		return
	}
	size := info.Size()
	if size < 0 || size > 0xffffffff {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: %q size %d does not fit in 32 bits", m.Path, size))
		}
		return
	}

	protocol.EncodeGetFileEcho(l.Outbound, m.Path)
	l.observeFrameOut(protocol.MsgGetFile)
	protocol.EncodeDataHeader(l.Outbound, uint32(size))
	l.observeFrameOut(protocol.MsgData)

	for l.Outbound.Used() > 0 {
		l.drainOutbound()
		if l.outboundBlocked {
			if err := l.waitForOutboundWritable(); err != nil {
				if l.Sink != nil {
					l.Sink.Fatal(err)
				}
				return
			}
		}
	}

	if err := unix.SetNonblock(l.StdoutFd, false); err != nil {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: set stdout blocking: %w", err))
		}
		return
	}
	sent, sendErr := xfer.SendFile(l.StdoutFd, f, size)
	if nbErr := unix.SetNonblock(l.StdoutFd, true); nbErr != nil && l.Sink != nil {
		l.Sink.Fatal(fmt.Errorf("reactor: restore stdout nonblocking: %w", nbErr))
		return
	}
	if sendErr != nil {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: sendfile %q: %w", m.Path, sendErr))
		}
		return
	}
	if sent != size {
		if l.Sink != nil {
			l.Sink.Fatal(fmt.Errorf("reactor: sendfile %q moved %d bytes, wanted %d", m.Path, sent, size))
		}
		return
	}
	if l.Observer != nil {
		l.Observer.ObserveBytesTransferred(uint64(sent))
	}
}

// waitForOutboundWritable blocks the reactor loop's single goroutine on
// a dedicated Wait call until stdout is writable again. This is the one
// place outside the idle-budget wait where the loop suspends, justified
// by the file-transfer contract's requirement to fully flush the
// outbound buffer before switching to blocking sendfile.
func (l *Loop) waitForOutboundWritable() error {
	for l.outboundBlocked {
		events, err := l.Poller.Wait(-1)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Fd == l.StdoutFd {
				if err := l.handleOutboundWritable(ev); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
