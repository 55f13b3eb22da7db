package ltx

import (
	"os"
	"sync"
)

// MockChildExecer is a public, swappable child.Execer for callers
// embedding an Engine in their own tests: it never forks a real
// process, just closes the write end of the output pipe (signaling
// immediate EOF) and reports a caller-supplied pid.
type MockChildExecer struct {
	mu      sync.Mutex
	nextPid int
	starts  []string
	failErr error
}

// NewMockChildExecer returns a mock execer whose first spawned pid is
// startPid; subsequent spawns increment by one.
func NewMockChildExecer(startPid int) *MockChildExecer {
	return &MockChildExecer{nextPid: startPid}
}

// FailNextWith makes the next Start call return err instead of
// spawning.
func (m *MockChildExecer) FailNextWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Start implements child.Execer.
func (m *MockChildExecer) Start(path string, outputWrite *os.File) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outputWrite.Close()
	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return 0, err
	}
	m.starts = append(m.starts, path)
	pid := m.nextPid
	m.nextPid++
	return pid, nil
}

// Paths returns every path Start was called with, in order.
func (m *MockChildExecer) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.starts))
	copy(out, m.starts)
	return out
}
