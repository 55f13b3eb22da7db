package reactor

import (
	"bytes"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cdent/ltx/internal/child"
	"github.com/cdent/ltx/internal/diag"
	"github.com/cdent/ltx/internal/logging"
	"github.com/cdent/ltx/internal/protocol"
)

type fakeExecer struct{ pid int }

func (f *fakeExecer) Start(path string, outputWrite *os.File) (int, error) {
	outputWrite.Close()
	return f.pid, nil
}

func newTestLoop(t *testing.T) (*Loop, *fakePoller, int, int) {
	t.Helper()
	loop, poller, inFd, outFd, _ := newTestLoopWithSig(t)
	return loop, poller, inFd, outFd
}

// newTestLoopWithSig additionally wires SigFd to the read end of a pipe
// and returns its write end, so tests can feed handleSignal crafted
// SignalfdSiginfo records the same way reaper.Drain would read them from
// a real signalfd.
func newTestLoopWithSig(t *testing.T) (loop *Loop, poller *fakePoller, inFd, outFd, sigFdWrite int) {
	t.Helper()
	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	sigR, sigW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		sigR.Close()
		sigW.Close()
	})

	fakePollerInst := NewFakePoller()
	table := child.NewTable()
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: os.Stderr})
	sink := diag.NewSink(os.Getpid(), func() uint64 { return 1 })
	sink.Stderr = &bytes.Buffer{}

	l := NewLoop(fakePollerInst, int(stdinR.Fd()), int(stdoutW.Fd()), int(sigR.Fd()), table, &fakeExecer{pid: 100}, logger, nil, sink, func() uint64 { return 1 })
	return l, fakePollerInst, int(stdinW.Fd()), int(stdoutR.Fd()), int(sigW.Fd())
}

// writeSiginfo writes one raw unix.SignalfdSiginfo record for pid to fd,
// the same wire shape a real signalfd delivers.
func writeSiginfo(t *testing.T, fd int, pid uint32) {
	t.Helper()
	var info unix.SignalfdSiginfo
	info.Signo = uint32(unix.SIGCHLD)
	info.Pid = pid
	buf := (*[unsafe.Sizeof(info)]byte)(unsafe.Pointer(&info))[:]
	n, err := unix.Write(fd, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
}

func TestHandlePingEnqueuesEchoAndPong(t *testing.T) {
	loop, _, _, outFd := newTestLoop(t)
	loop.handlePing()
	assert.True(t, loop.Outbound.Used() > 0)

	loop.drainOutbound()
	buf := make([]byte, 64)
	n, err := unix.Read(outFd, buf)
	require.NoError(t, err)
	want := []byte{0x91, 0x00, 0x92, 0x01, 0x01}
	assert.Equal(t, want, buf[:n])
}

func TestParseOneHandlesPingFromInboundBuffer(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	loop.Inbound.Enqueue([]byte{0x91, 0x00})
	n, err := loop.parseOne()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, loop.Outbound.Used() > 0)
}

func TestParseOneReturnsZeroOnHalfFrame(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	loop.Inbound.Enqueue([]byte{0x93, 0x03}) // exec header, truncated
	n, err := loop.parseOne()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, loop.Inbound.Used(), "half-frame must be left untouched")
}

func TestParseOneFatalOnUnknownType(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	// Nil the sink so the recovered *protocol.ProtocolError is returned
	// to the caller instead of routing through Sink.Fatal's os.Exit(1) —
	// exercising the panic-recovery path without terminating the test
	// binary.
	loop.Sink = nil
	loop.Inbound.Enqueue([]byte{0x91, 0x7f})
	_, err := loop.parseOne()
	require.Error(t, err)
}

func TestHandleExecRegistersChildOutputFd(t *testing.T) {
	loop, poller, _, _ := newTestLoop(t)
	loop.handleExec(protocol.ExecMsg{TableID: 0, Path: "/bin/true", ArgsN: 2})
	assert.True(t, loop.Outbound.Used() > 0)
	slot := loop.Table.Get(0)
	src, ok := loop.sources[slot.OutputFd]
	require.True(t, ok)
	assert.Equal(t, SourceChild, src.Kind)
	assert.True(t, poller.IsRegistered(src.Fd))
	assert.Equal(t, child.StateRunning, slot.State)
}

func TestHandleChildOutputReadsOnEPOLLOUT(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	childR, childW, err := os.Pipe()
	require.NoError(t, err)
	defer childR.Close()
	defer childW.Close()

	_, err = childW.WriteString("hello from child\n")
	require.NoError(t, err)

	tableID := uint8(3)
	loop.Table.Claim(tableID, "/bin/true")
	loop.Table.MarkRunning(tableID, 999, int(childR.Fd()))

	require.NoError(t, loop.handleChildOutput(Source{Kind: SourceChild, TableID: tableID, Fd: int(childR.Fd())}, Event{Fd: int(childR.Fd()), Events: unix.EPOLLOUT}))
	assert.True(t, loop.Outbound.Used() > 0)
	assert.Equal(t, child.StateRunning, loop.Table.Get(tableID).State, "data-only event must not release the slot")
}

func TestReapAfterEOFReleasesSlot(t *testing.T) {
	loop, _, _, _, sigW := newTestLoopWithSig(t)
	loop.handleExec(protocol.ExecMsg{TableID: 1, Path: "/bin/true", ArgsN: 2})
	outFd := loop.Table.Get(1).OutputFd
	pid := loop.Table.Get(1).Pid

	// EOF observed first (the common case: the fake execer closes its
	// write end immediately), putting the slot in terminated_pending_eof.
	require.NoError(t, loop.handleChildOutput(Source{Kind: SourceChild, TableID: 1, Fd: outFd}, Event{Fd: outFd, Events: unix.EPOLLHUP}))
	assert.Equal(t, child.StateTerminatedPendingEOF, loop.Table.Get(1).State)

	// Reap arrives through the real path: handleSignal -> reaper.Drain,
	// exactly as it would off a live signalfd.
	writeSiginfo(t, sigW, uint32(pid))
	require.NoError(t, loop.handleSignal())
	assert.Equal(t, child.StateEmpty, loop.Table.Get(1).State)
}

// TestHandleSignalDoesNotDoubleReleaseSlot guards against handleSignal
// calling Table.MarkReaped a second time on a slot reaper.Drain already
// released: a second MarkReaped on an already-empty slot would resurrect
// it into terminated_pending_eof, and a subsequent Exec for the same
// table_id would then fail Claim's not-empty check.
func TestHandleSignalDoesNotDoubleReleaseSlot(t *testing.T) {
	loop, _, _, _, sigW := newTestLoopWithSig(t)
	loop.handleExec(protocol.ExecMsg{TableID: 2, Path: "/bin/true", ArgsN: 2})
	outFd := loop.Table.Get(2).OutputFd
	pid := loop.Table.Get(2).Pid

	require.NoError(t, loop.handleChildOutput(Source{Kind: SourceChild, TableID: 2, Fd: outFd}, Event{Fd: outFd, Events: unix.EPOLLHUP}))
	writeSiginfo(t, sigW, uint32(pid))
	require.NoError(t, loop.handleSignal())
	require.Equal(t, child.StateEmpty, loop.Table.Get(2).State)

	// A re-exec on the now-freed table_id must succeed, not hit a stale
	// terminated_pending_eof state left behind by a double release.
	loop.handleExec(protocol.ExecMsg{TableID: 2, Path: "/bin/true", ArgsN: 2})
	assert.Equal(t, child.StateRunning, loop.Table.Get(2).State)
}
