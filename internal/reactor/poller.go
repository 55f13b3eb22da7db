// Package reactor implements the single-threaded, readiness-driven I/O
// loop: one goroutine multiplexes the control pipes and every running
// child's output pipe through a Poller.
package reactor

import "golang.org/x/sys/unix"

// Event is one readiness notification returned from Wait.
type Event struct {
	Fd     int
	Events uint32 // bitmask of unix.EPOLLIN / EPOLLOUT / EPOLLHUP / EPOLLERR
}

// Poller is the minimal readiness-multiplexer surface the loop needs.
// Real code is backed by epoll; tests use fakePoller.
type Poller interface {
	// Add registers fd for level-triggered readiness on the given
	// event mask.
	Add(fd int, events uint32) error
	// AddEdgeTriggered registers fd for edge-triggered readiness. Used
	// only for the outbound fd's EPOLLOUT interest.
	AddEdgeTriggered(fd int, events uint32) error
	// ModOut rearms (or disarms) EPOLLOUT interest on the outbound fd.
	ModOut(fd int, want bool) error
	// Remove unregisters fd. Removing an fd that was never added is a
	// no-op.
	Remove(fd int) error
	// Wait blocks up to timeoutMs (or indefinitely if negative) and
	// returns the ready events. A zero-length, nil-error result means
	// the idle budget elapsed with nothing ready.
	Wait(timeoutMs int) ([]Event, error)
	// Close releases the poller's resources.
	Close() error
}

const (
	readFlags  = unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR
	writeFlags = unix.EPOLLOUT
)
