package xfer

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SendFile streams the full contents of src to the outbound file
// descriptor outFd, which the caller has already switched to blocking
// mode, using sendfile(2) as the kernel fast path and falling back to
// a pooled user-space copy loop when sendfile isn't available (e.g.
// the destination isn't a type sendfile supports). It returns the
// total number of bytes written, which the caller must compare against
// the stat size it already announced in the data frame header.
func SendFile(outFd int, src *os.File, size int64) (int64, error) {
	n, err := sendfileLoop(outFd, int(src.Fd()), size)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOSYS) {
		return n, err
	}
	return copyLoop(outFd, src, size)
}

// sendfileLoop drives unix.Sendfile to completion, handling partial
// sends (the kernel may copy fewer bytes than requested even when it
// reports success).
func sendfileLoop(outFd, inFd int, size int64) (int64, error) {
	var total int64
	var offset int64
	for total < size {
		n, err := unix.Sendfile(outFd, inFd, &offset, int(size-total))
		if n > 0 {
			total += int64(n)
		}
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return total, fmt.Errorf("xfer: sendfile: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// copyLoop is the fallback path: read the file into a pooled buffer and
// write it to outFd, looping until size bytes have moved or an error
// occurs. This is the "user-space loop" the file-transfer contract
// explicitly allows as a substitute for the zero-copy fast path.
func copyLoop(outFd int, src *os.File, size int64) (int64, error) {
	buf := GetBuffer(chunkSize(size))
	defer PutBuffer(buf)

	var total int64
	for total < size {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := writeAll(outFd, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			break
		}
	}
	if total != size {
		return total, fmt.Errorf("xfer: copy loop moved %d bytes, wanted %d", total, size)
	}
	return total, nil
}

// chunkSize picks the fallback copy loop's buffer size: the smallest
// bucket that covers the whole file, so a short test log doesn't pull a
// multi-megabyte buffer out of the pool just to copy a few hundred bytes.
func chunkSize(size int64) uint32 {
	return bucketSizes[bucketFor(uint32(size))]
}

func writeAll(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return fmt.Errorf("xfer: write: %w", err)
		}
		p = p[n:]
	}
	return nil
}
