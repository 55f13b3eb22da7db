package reactor

import "golang.org/x/sys/unix"

// MonotonicNowNs returns nanoseconds since an unspecified epoch
// (typically boot), matching the wire protocol's timestamp contract:
// clients must treat these as differences only, never absolute time.
func MonotonicNowNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}
