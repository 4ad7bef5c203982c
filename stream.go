package segpipe

import (
	"context"
	"io"
)

type ioReader struct {
	ctx context.Context
	r   *Reader
}

// NewIOReader adapts a Reader to io.Reader. Reads honour ctx; a cancelled
// pipe reads as `ErrCancelled`, a completed one as io.EOF.
func NewIOReader(ctx context.Context, r *Reader) io.Reader {
	return &ioReader{ctx: ctx, r: r}
}

func (ir *ioReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	res, err := ir.r.Read(ir.ctx)
	if err != nil {
		return 0, err
	}
	if res.Cancelled {
		return 0, ErrCancelled
	}
	if res.Buffer.IsEmpty() {
		return 0, io.EOF
	}

	n := res.Buffer.CopyTo(b)
	if err := ir.r.Advance(n); err != nil {
		return n, err
	}
	return n, nil
}

// CopyTo writes everything read from r to w, advancing r as bytes are
// written. It returns nil once the writer completed cleanly.
func CopyTo(ctx context.Context, r *Reader, w io.Writer) (int64, error) {
	return copyTo(ctx, r, w)
}

func copyTo(ctx context.Context, r *Reader, w io.Writer) (int64, error) {
	var total int64
	for {
		res, err := r.Read(ctx)
		if err != nil {
			return total, err
		}
		if res.Cancelled {
			return total, ErrCancelled
		}
		if res.Buffer.IsEmpty() {
			return total, nil
		}

		written, wErr := writeSegments(w, res.Buffer)
		total += int64(written)
		if err := r.Advance(written); err != nil {
			return total, err
		}
		if wErr != nil {
			return total, wErr
		}
	}
}

func writeSegments(w io.Writer, buf Buffer) (int, error) {
	n := 0
	for seg := range buf.Segments() {
		wn, wErr := w.Write(seg)
		if wn < 0 || wn > len(seg) {
			wn = 0
			if wErr == nil {
				wErr = io.ErrShortWrite
			}
		}
		n += wn
		if wErr != nil {
			return n, wErr
		}
		if wn != len(seg) {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}
