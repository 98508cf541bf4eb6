// Package buffer implements a fixed-capacity, single-copy receive
// buffer: a contiguous byte slice with a read cursor and a write
// cursor, compacted back to the origin whenever new space is needed
// and the tail doesn't have enough of it.
//
// It is not a ring buffer: once the write cursor reaches the end of
// the backing array, the unread bytes are memmove'd to offset zero
// rather than wrapping, so callers always see a contiguous []byte from
// Data.
package buffer

import "github.com/pkg/errors"

// ErrOverflow is returned by Prepare when n would not fit even after
// compacting the unread bytes to the start of the buffer.
var ErrOverflow = errors.New("buffer: capacity exceeded")

// Flat is a fixed-capacity flat receive buffer. The zero value is not
// usable; construct with NewFlat.
type Flat struct {
	buf       []byte
	in        int // start of unread data
	out       int // end of unread data / start of free space
	last      int // end of the region returned by the most recent Prepare
	compacted bool
}

// NewFlat allocates a Flat buffer with the given fixed capacity.
func NewFlat(capacity int) *Flat {
	return &Flat{buf: make([]byte, capacity)}
}

// Capacity returns the buffer's fixed total size.
func (f *Flat) Capacity() int {
	return len(f.buf)
}

// Size returns the number of unread bytes currently buffered.
func (f *Flat) Size() int {
	return f.out - f.in
}

// Available returns how many more bytes could be buffered in total,
// ignoring compaction (Capacity - Size).
func (f *Flat) Available() int {
	return f.Capacity() - f.Size()
}

// Empty reports whether there is no unread data.
func (f *Flat) Empty() bool {
	return f.in == f.out
}

// Data returns the unread region. The returned slice aliases the
// buffer's storage and is invalidated by the next Prepare or Consume.
func (f *Flat) Data() []byte {
	return f.buf[f.in:f.out]
}

// Clear resets the buffer to empty, discarding any unread data.
func (f *Flat) Clear() {
	f.in, f.out, f.last = 0, 0, 0
}

// Prepare returns a writable region of at least n bytes immediately
// following the unread data, compacting the buffer first if the tail
// doesn't have room but the total free space does. It returns
// ErrOverflow if n can never fit, even after compaction.
func (f *Flat) Prepare(n int) ([]byte, error) {
	if n <= len(f.buf)-f.out {
		f.compacted = false
		f.last = f.out + n
		return f.buf[f.out:f.last], nil
	}

	size := f.Size()
	if n > f.Capacity()-size {
		return nil, errors.WithStack(ErrOverflow)
	}

	if size > 0 {
		copy(f.buf[0:size], f.buf[f.in:f.out])
	}
	f.in = 0
	f.out = size
	f.last = f.out + n
	f.compacted = true
	return f.buf[f.out:f.last], nil
}

// Compacted reports whether the most recent successful Prepare call had
// to memmove the unread bytes back to offset zero to make room.
func (f *Flat) Compacted() bool {
	return f.compacted
}

// Commit advances the write cursor by n bytes, clamped to the region
// handed out by the most recent Prepare.
func (f *Flat) Commit(n int) {
	if max := f.last - f.out; n > max {
		n = max
	}
	f.out += n
}

// Consume discards n bytes from the front of the unread data. If n is
// at least Size, the buffer resets to empty at offset zero so the next
// Prepare never needs to compact.
func (f *Flat) Consume(n int) {
	if n >= f.Size() {
		f.in, f.out = 0, 0
		return
	}
	f.in += n
}
