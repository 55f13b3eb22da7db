//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollPoller is the real Poller, backed by a single epoll instance.
type epollPoller struct {
	epfd int
	buf  []unix.EpollEvent
}

// NewEpollPoller creates an epoll-backed Poller with room for up to
// maxEvents ready events per Wait call.
func NewEpollPoller(maxEvents int) (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd, buf: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *epollPoller) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) AddEdgeTriggered(fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events | unix.EPOLLET}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) ModOut(fd int, want bool) error {
	var events uint32 = unix.EPOLLET
	if want {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeoutMs int) ([]Event, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.buf, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		out := make([]Event, n)
		for i := 0; i < n; i++ {
			out[i] = Event{Fd: int(p.buf[i].Fd), Events: p.buf[i].Events}
		}
		return out, nil
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
