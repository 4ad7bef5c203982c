package stage

import (
	"context"

	"github.com/jacoelho/segpipe"
)

// Chain creates a pipe fed by upstream through fn and returns its reader.
// The stage runs on the factory; opts configure the new pipe.
func Chain(f *segpipe.Factory, upstream *segpipe.Reader, fn TransformFunc, opts ...segpipe.Option) (*segpipe.Reader, error) {
	w, r, err := f.CreatePipe(opts...)
	if err != nil {
		return nil, err
	}

	err = f.AttachConsumer(upstream, func(ctx context.Context, up *segpipe.Reader) error {
		return Transform(ctx, up, w, fn)
	})
	if err != nil {
		w.Complete(err)
		r.Complete(err)
		return nil, err
	}
	return r, nil
}

// Into creates a pipe whose bytes go through fn into downstream and
// returns its writer.
func Into(f *segpipe.Factory, downstream *segpipe.Writer, fn TransformFunc, opts ...segpipe.Option) (*segpipe.Writer, error) {
	return f.CreateWriter(func(ctx context.Context, r *segpipe.Reader) error {
		return Transform(ctx, r, downstream, fn)
	}, opts...)
}
