package segpipe

import (
	"context"
	"io"
)

var (
	_ io.Writer     = (*Writer)(nil)
	_ io.ReaderFrom = (*Writer)(nil)
	_ io.Closer     = (*Writer)(nil)
)

// Writer is the producer half of a pipe.
//
// A write session goes Allocate, then any number of Ensure/Advance pairs,
// then Flush. Methods MUST NOT be called concurrently, except `Complete`.
type Writer struct {
	p *pipe
}

// Name of the pipe.
func (w *Writer) Name() string {
	return w.p.name
}

// State of the pipe.
func (w *Writer) State() State {
	return w.p.state()
}

// Allocate opens a write session and returns a region of at least minSize
// bytes. The region belongs to the caller until the next `Advance`.
func (w *Writer) Allocate(minSize int) ([]byte, error) {
	return w.p.allocate(minSize)
}

// Ensure returns a region of at least n bytes within the open session,
// moving to a new segment when the current one is too small. A region
// obtained before is no longer valid.
func (w *Writer) Ensure(n int) ([]byte, error) {
	return w.p.ensure(n)
}

// Advance commits the first n bytes of the current region.
func (w *Writer) Advance(n int) error {
	return w.p.commit(n)
}

// Flush makes committed bytes visible to the reader and closes the write
// session. It blocks while the pipe holds more unread bytes than its
// high-water mark, until the reader catches up, ctx is done or the reader
// goes away (`ErrPeerGone`).
func (w *Writer) Flush(ctx context.Context) error {
	return w.p.flush(ctx)
}

// Unflushed returns the number of committed bytes not flushed yet.
func (w *Writer) Unflushed() int {
	return w.p.unflushed()
}

// Complete finishes the write side. A non-nil err is delivered to the
// reader once it consumed every flushed byte. Unflushed bytes are
// dropped. Only the first call has an effect.
func (w *Writer) Complete(err error) {
	w.p.completeWriter(err)
}

// Close completes the writer without error.
func (w *Writer) Close() error {
	w.Complete(nil)
	return nil
}

// Write implements io.Writer, flushing after every segment it fills.
func (w *Writer) Write(b []byte) (n int, err error) {
	for len(b) > 0 {
		region, err := w.p.allocate(1)
		if err != nil {
			return n, err
		}
		c := copy(region, b)
		if err := w.p.commit(c); err != nil {
			return n, err
		}
		if err := w.p.flush(context.Background()); err != nil {
			return n, err
		}
		n += c
		b = b[c:]
	}
	return n, nil
}

// ReadFrom implements io.ReaderFrom by reading from r straight into the
// pipe segments until EOF or an error occurs.
func (w *Writer) ReadFrom(r io.Reader) (n int64, err error) {
	for {
		region, err := w.p.allocate(1)
		if err != nil {
			return n, err
		}

		m, rErr := r.Read(region)
		if m < 0 || m > len(region) {
			m = 0
			if rErr == nil {
				rErr = io.ErrShortBuffer
			}
		}
		if err := w.p.commit(m); err != nil {
			return n, err
		}
		if err := w.p.flush(context.Background()); err != nil {
			return n, err
		}
		n += int64(m)

		if rErr != nil {
			if rErr == io.EOF {
				return n, nil
			}
			return n, rErr
		}
	}
}
