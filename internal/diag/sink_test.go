package diag

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrameSink struct {
	tableID *uint8
	nowNs   uint64
	text    string
	called  bool
}

func (f *fakeFrameSink) EnqueueLog(tableID *uint8, nowNs uint64, text string) bool {
	f.tableID = tableID
	f.nowNs = nowNs
	f.text = text
	f.called = true
	return true
}

func TestLogfWritesToStderrAndFrame(t *testing.T) {
	var buf bytes.Buffer
	frames := &fakeFrameSink{}
	sink := &Sink{Stderr: &buf, StartPID: os.Getpid(), NowNs: func() uint64 { return 42 }}
	sink.SetFrameSink(frames)

	sink.Logf(nil, "child %d exited", 5)

	require.Contains(t, buf.String(), "child 5 exited")
	assert.True(t, strings.Contains(buf.String(), "sink_test.go"))
	require.True(t, frames.called)
	assert.Equal(t, uint64(42), frames.nowNs)
	assert.Nil(t, frames.tableID)
	// The frame must carry the same [file:func:line]-prefixed text that
	// was written to stderr, not the bare message.
	assert.Equal(t, buf.String(), frames.text)
	assert.True(t, strings.HasPrefix(frames.text, "[") && strings.Contains(frames.text, "child 5 exited"))
}

func TestLogfSkipsFrameWhenPidDiffers(t *testing.T) {
	var buf bytes.Buffer
	frames := &fakeFrameSink{}
	sink := &Sink{Stderr: &buf, StartPID: os.Getpid() + 1, NowNs: func() uint64 { return 1 }}
	sink.SetFrameSink(frames)

	sink.Logf(nil, "should not reach the outbound pipe")

	assert.False(t, frames.called)
	assert.Contains(t, buf.String(), "should not reach the outbound pipe")
}

func TestAssertPassesSilentlyWhenTrue(t *testing.T) {
	var buf bytes.Buffer
	sink := &Sink{Stderr: &buf, StartPID: os.Getpid(), NowNs: func() uint64 { return 0 }}
	sink.Assert(true, "unreachable")
	assert.Empty(t, buf.String())
}
