// Package protocol implements the wire format: a fixed-capacity byte
// buffer, a strict subset of MessagePack, and the frame layer built on
// top of it. None of it ever blocks or grows; callers are responsible
// for checking capacity before writing.
package protocol

import "fmt"

// Buffer is a fixed-size byte region with a read offset and an unread
// length, used for both the inbound and outbound pipes. It never grows:
// exceeding capacity is a programming error, not a recoverable condition.
type Buffer struct {
	data []byte
	off  int
	used int
}

// NewBuffer allocates a buffer with the given fixed capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Used returns the number of unread bytes currently stored.
func (b *Buffer) Used() int { return b.used }

// Start returns the byte slice of currently unread data.
func (b *Buffer) Start() []byte { return b.data[b.off : b.off+b.used] }

// Tail returns the writable region at the end of the buffer, i.e. where
// the next Fill/Enqueue should write.
func (b *Buffer) Tail() []byte { return b.data[b.off+b.used:] }

// Avail returns how many bytes can still be appended at the tail without
// compaction.
func (b *Buffer) Avail() int { return len(b.data) - b.off - b.used }

// Push appends a single byte. Panics if the buffer is full; callers must
// check Avail first (this mirrors the reference implementation, where
// exceeding capacity is a fatal assertion, not a recoverable error).
func (b *Buffer) Push(v byte) {
	if b.Avail() < 1 {
		panic(fmt.Sprintf("protocol: buffer full (cap=%d)", len(b.data)))
	}
	b.data[b.off+b.used] = v
	b.used++
}

// Enqueue appends n bytes. The caller must ensure Avail() >= len(p);
// violating this is fatal (invariant 2 of the wire protocol).
func (b *Buffer) Enqueue(p []byte) {
	if len(p) > b.Avail() {
		panic(fmt.Sprintf("protocol: enqueue of %d bytes exceeds avail %d", len(p), b.Avail()))
	}
	copy(b.data[b.off+b.used:], p)
	b.used += len(p)
}

// Consume drops n bytes from the front of the unread region (used after
// a successful decode or write) and compacts the remainder to offset 0.
func (b *Buffer) Consume(n int) {
	if n > b.used {
		panic(fmt.Sprintf("protocol: consume %d exceeds used %d", n, b.used))
	}
	b.off += n
	b.used -= n
	b.Compact()
}

// Fill records that n bytes were appended directly into Tail() by the
// caller (e.g. via a raw read syscall).
func (b *Buffer) Fill(n int) {
	if n > b.Avail() {
		panic(fmt.Sprintf("protocol: fill of %d bytes exceeds avail %d", n, b.Avail()))
	}
	b.used += n
}

// Compact moves the unread region down to offset 0 so the full tail is
// contiguously available again. It is a no-op when off is already 0.
func (b *Buffer) Compact() {
	if b.off == 0 {
		return
	}
	copy(b.data[:b.used], b.data[b.off:b.off+b.used])
	b.off = 0
}

// Reset drops all buffered data.
func (b *Buffer) Reset() {
	b.off = 0
	b.used = 0
}
