package segpipe

import "iter"

// Buffer is a read-only view over the readable bytes of a pipe, possibly
// spread across several segments. It stays valid until the next call to
// `Reader.Advance`.
type Buffer struct {
	segs [][]byte
	n    int
}

func (b Buffer) Len() int {
	return b.n
}

func (b Buffer) IsEmpty() bool {
	return b.n == 0
}

// Segments yields the contiguous regions of the buffer in order.
func (b Buffer) Segments() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, s := range b.segs {
			if !yield(s) {
				return
			}
		}
	}
}

// CopyTo copies as much of the buffer as fits into dst.
func (b Buffer) CopyTo(dst []byte) int {
	n := 0
	for _, s := range b.segs {
		if n == len(dst) {
			break
		}
		n += copy(dst[n:], s)
	}
	return n
}

// Bytes returns a copy of the whole buffer.
func (b Buffer) Bytes() []byte {
	out := make([]byte, b.n)
	b.CopyTo(out)
	return out
}

// Slice returns the view of bytes [start, end). It panics if the bounds
// are out of range, like slicing does.
func (b Buffer) Slice(start, end int) Buffer {
	if start < 0 || end < start || end > b.n {
		panic("segpipe: buffer slice out of range")
	}

	out := Buffer{n: end - start}
	off := 0
	for _, s := range b.segs {
		if off >= end {
			break
		}
		lo, hi := max(start-off, 0), min(end-off, len(s))
		if lo < hi {
			out.segs = append(out.segs, s[lo:hi])
		}
		off += len(s)
	}
	return out
}

// ReadResult is what `Reader.Read` hands back.
type ReadResult struct {
	Buffer Buffer

	// Completed is set once the writer is done: no bytes will be added
	// after the ones in Buffer.
	Completed bool

	// Cancelled is set when the read was unblocked by `CancelPendingRead`.
	Cancelled bool
}
