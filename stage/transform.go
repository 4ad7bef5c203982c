package stage

import (
	"context"
	"errors"

	"github.com/jacoelho/segpipe"
)

// TransformFunc writes the transformed form of src into dst and returns
// how many bytes it wrote. dst is at least as long as src; a filter may
// write fewer bytes than it read.
type TransformFunc func(dst, src []byte) int

// Mask clears the bits of every byte that are not set in m.
func Mask(m byte) TransformFunc {
	return func(dst, src []byte) int {
		for i, b := range src {
			dst[i] = b & m
		}
		return len(src)
	}
}

// Identity copies bytes through unchanged.
func Identity(dst, src []byte) int {
	return copy(dst, src)
}

// Transform moves everything read from r into w through fn.
//
// It returns nil once r completed cleanly or its read was cancelled. In
// the first case w is completed, in the second it is left alone. Any
// other failure completes w with the error; a failure on the w side also
// completes r so the upstream producer stops.
func Transform(ctx context.Context, r *segpipe.Reader, w *segpipe.Writer, fn TransformFunc) error {
	for {
		res, err := r.Read(ctx)
		if err != nil {
			w.Complete(err)
			return err
		}
		if res.Cancelled {
			return nil
		}
		if res.Buffer.IsEmpty() {
			w.Complete(nil)
			return nil
		}

		if err := transformBuffer(res.Buffer, w, fn); err != nil {
			return downstreamFailed(r, w, err)
		}
		if err := r.Advance(res.Buffer.Len()); err != nil {
			w.Complete(err)
			return err
		}
		if err := w.Flush(ctx); err != nil {
			return downstreamFailed(r, w, err)
		}
	}
}

// Copy moves everything read from r into w unchanged.
func Copy(ctx context.Context, r *segpipe.Reader, w *segpipe.Writer) error {
	return Transform(ctx, r, w, Identity)
}

func transformBuffer(buf segpipe.Buffer, w *segpipe.Writer, fn TransformFunc) error {
	first := true
	for seg := range buf.Segments() {
		var (
			region []byte
			err    error
		)
		if first {
			region, err = w.Allocate(len(seg))
			first = false
		} else {
			region, err = w.Ensure(len(seg))
		}
		if err != nil {
			return err
		}

		if err := w.Advance(fn(region[:len(seg)], seg)); err != nil {
			return err
		}
	}
	return nil
}

func downstreamFailed(r *segpipe.Reader, w *segpipe.Writer, err error) error {
	w.Complete(err)
	if errors.Is(err, segpipe.ErrPeerGone) || errors.Is(err, segpipe.ErrAllocation) {
		r.Complete(err)
	}
	return err
}
