// Package reaper consumes child-termination notifications from a
// signalfd and matches them against the child table, the Go analogue
// of installing a SIGCHLD handler and calling waitid in a loop.
package reaper

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cdent/ltx/internal/child"
)

// Open creates a signalfd delivering only SIGCHLD, after blocking the
// signal from default disposition so it queues for the fd instead of
// interrupting the process. The returned fd is registered with the
// reactor's poller for level-triggered readability.
func Open() (int, error) {
	var set unix.Sigset_t
	set.Val[0] |= 1 << (uint(unix.SIGCHLD) - 1)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return 0, fmt.Errorf("reaper: sigmask: %w", err)
	}
	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return 0, fmt.Errorf("reaper: signalfd: %w", err)
	}
	return fd, nil
}

// Result is one reaped child, ready to become an outbound result frame.
type Result struct {
	TableID  uint8
	NowNs    uint64
	SiCode   uint32
	SiStatus uint32
}

const siginfoSize = int(unsafe.Sizeof(unix.SignalfdSiginfo{}))

// Drain reads up to 16 queued siginfo records from sigFd in one call
// (any further records stay queued for the next readiness event) and
// matches each to a child-table slot by pid. An unmatched pid is a
// fatal protocol invariant violation, signaled by returning an error;
// the caller is expected to route that into the fatal path.
func Drain(sigFd int, table *child.Table, nowNs func() uint64) ([]Result, error) {
	buf := make([]byte, siginfoSize*16)
	n, err := unix.Read(sigFd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("reaper: read signalfd: %w", err)
	}
	count := n / siginfoSize
	results := make([]Result, 0, count)
	for i := 0; i < count; i++ {
		info := siginfoAt(buf, i)
		tableID, ok := table.FindByPid(int(info.Pid))
		if !ok {
			return results, fmt.Errorf("reaper: unknown pid %d in SIGCHLD batch", info.Pid)
		}
		table.MarkReaped(tableID)
		results = append(results, Result{
			TableID:  tableID,
			NowNs:    nowNs(),
			SiCode:   uint32(info.Code),
			SiStatus: uint32(info.Status),
		})
	}
	return results, nil
}

// siginfoAt casts the i'th fixed-size record out of a raw signalfd read
// buffer via pointer reinterpretation, rather than a manual
// byte-by-byte unmarshal.
func siginfoAt(buf []byte, i int) *unix.SignalfdSiginfo {
	return (*unix.SignalfdSiginfo)(unsafe.Pointer(&buf[i*siginfoSize]))
}
