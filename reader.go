package segpipe

import (
	"context"
	"io"
)

var (
	_ io.WriterTo = (*Reader)(nil)
	_ io.Closer   = (*Reader)(nil)
)

// Reader is the consumer half of a pipe.
//
// Every successful `Read` returning data MUST be followed by `Advance` or
// `AdvanceTo` before the next one. Methods MUST NOT be called
// concurrently, except `CancelPendingRead` and `Complete`.
type Reader struct {
	p *pipe
}

// Name of the pipe.
func (r *Reader) Name() string {
	return r.p.name
}

// State of the pipe.
func (r *Reader) State() State {
	return r.p.state()
}

// Read waits for readable bytes. It returns:
//
//   - a non-empty Buffer, with Completed set if the writer is done;
//   - an empty Buffer with Completed set once everything was consumed,
//     together with the writer's error if it completed with one;
//   - Cancelled after `CancelPendingRead`;
//   - ctx.Err() if ctx ends first, leaving the pipe untouched.
func (r *Reader) Read(ctx context.Context) (ReadResult, error) {
	return r.p.read(ctx)
}

// TryRead is the non-blocking version of `Read`. The boolean is false
// when nothing is readable yet.
func (r *Reader) TryRead() (ReadResult, bool, error) {
	return r.p.tryRead()
}

// Advance releases the first consumed bytes of the last read. The rest is
// returned again by the next `Read`.
func (r *Reader) Advance(consumed int) error {
	return r.p.advance(consumed, consumed)
}

// AdvanceTo releases consumed bytes and marks the bytes up to examined as
// seen: the next `Read` waits until more than those are available or the
// writer completes.
func (r *Reader) AdvanceTo(consumed, examined int) error {
	return r.p.advance(consumed, examined)
}

// CancelPendingRead wakes up an outstanding `Read` with a cancelled
// result. It is terminal: later reads return cancelled too and the
// writer gets `ErrPeerGone`. Safe to call from any goroutine, any number
// of times.
func (r *Reader) CancelPendingRead() {
	r.p.cancelPendingRead()
}

// Complete tells the writer no more bytes will be read. Only the first
// call has an effect.
func (r *Reader) Complete(err error) {
	r.p.completeReader(err)
}

// Close completes the reader without error.
func (r *Reader) Close() error {
	r.Complete(nil)
	return nil
}

// WriteTo implements io.WriterTo by writing every readable region to w
// until the writer completes or an error occurs.
func (r *Reader) WriteTo(w io.Writer) (n int64, err error) {
	return copyTo(context.Background(), r, w)
}
