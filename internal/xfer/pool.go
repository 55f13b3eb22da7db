// Package xfer implements the get_file handler: streaming a file into
// the outbound pipe via sendfile(2), with a pooled user-space buffer
// fallback when the zero-copy path isn't available.
package xfer

import "sync"

// bucketSizes are the fallback copy loop's buffer tiers. get_file is a
// one-shot whole-file transfer, not a queue of fixed-depth block I/O
// requests, so there's no fixed request size to size a single pool
// around; a small geometric ladder from 64 KiB up to a 4 MiB cap keeps
// a transfer of a short test
// log from allocating a megabyte-sized buffer while still amortizing
// large file transfers over a handful of syscalls instead of thousands.
var bucketSizes = []uint32{
	size64k,
	size256k,
	size1m,
	size4m,
}

const (
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
	size4m   = 4 * 1024 * 1024
)

var pools = make([]sync.Pool, len(bucketSizes))

func init() {
	for i, sz := range bucketSizes {
		sz := sz
		pools[i] = sync.Pool{New: func() any { b := make([]byte, sz); return &b }}
	}
}

// bucketFor returns the index of the smallest bucket that can hold size,
// or the last (largest) bucket if size exceeds every tier.
func bucketFor(size uint32) int {
	for i, sz := range bucketSizes {
		if size <= sz {
			return i
		}
	}
	return len(bucketSizes) - 1
}

// GetBuffer returns a pooled buffer of at least the requested size.
// Caller must call PutBuffer when done.
func GetBuffer(size uint32) []byte {
	idx := bucketFor(size)
	buf := *pools[idx].Get().(*[]byte)
	if uint32(len(buf)) < size {
		// size exceeded every bucket; grow past the largest tier rather
		// than truncate the transfer.
		return make([]byte, size)
	}
	return buf[:size]
}

// PutBuffer returns a buffer to the pool whose bucket size matches the
// buffer's capacity. A buffer with a non-bucket capacity (e.g. one
// GetBuffer had to grow past the largest tier for) is dropped rather
// than forced into a pool it doesn't fit.
func PutBuffer(buf []byte) {
	c := uint32(cap(buf))
	buf = buf[:c]
	for i, sz := range bucketSizes {
		if sz == c {
			pools[i].Put(&buf)
			return
		}
	}
}
