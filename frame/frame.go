// Package frame exchanges length-prefixed messages over segpipe pipes.
//
// A frame is the varint-encoded length of the payload followed by the
// payload. The largest accepted frame must stay below the high-water mark
// of the pipe, or the reader waits for a frame the writer cannot flush.
package frame

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jacoelho/segpipe"
)

// DefaultMaxSize is the payload limit of `Write` and `Read`.
const DefaultMaxSize = 1 << 20

var ErrFrameTooLarge = errors.New("frame: frame too large")

// Codec reads and writes frames of at most MaxSize payload bytes.
type Codec struct {
	maxSize int
}

func NewCodec(maxSize int) Codec {
	return Codec{maxSize: maxSize}
}

// Write writes msg as one frame and flushes it.
func Write(ctx context.Context, w *segpipe.Writer, msg []byte) error {
	return NewCodec(DefaultMaxSize).Write(ctx, w, msg)
}

// Read returns the next frame. See `Codec.Read`.
func Read(ctx context.Context, r *segpipe.Reader) ([]byte, error) {
	return NewCodec(DefaultMaxSize).Read(ctx, r)
}

func (c Codec) Write(ctx context.Context, w *segpipe.Writer, msg []byte) error {
	if len(msg) > c.maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(msg), c.maxSize)
	}

	size := protowire.SizeVarint(uint64(len(msg))) + len(msg)
	region, err := w.Allocate(size)
	if err != nil {
		return err
	}
	prefix := protowire.AppendVarint(region[:0], uint64(len(msg)))
	copy(region[len(prefix):], msg)
	if err := w.Advance(size); err != nil {
		return err
	}
	return w.Flush(ctx)
}

// Read returns the payload of the next frame. It returns io.EOF once the
// writer completed on a frame boundary, io.ErrUnexpectedEOF if it
// completed in the middle of a frame (joined with the writer's error, if
// any), and `segpipe.ErrCancelled` if the
// read was cancelled. A frame over the limit fails with `ErrFrameTooLarge`
// and is left in the pipe.
func (c Codec) Read(ctx context.Context, r *segpipe.Reader) ([]byte, error) {
	for {
		res, err := r.Read(ctx)
		if err != nil {
			return nil, err
		}
		if res.Cancelled {
			return nil, segpipe.ErrCancelled
		}
		buf := res.Buffer
		if buf.IsEmpty() {
			return nil, io.EOF
		}

		msg, n, err := c.decode(buf)
		if err != nil {
			return nil, errors.Join(err, r.Advance(0))
		}
		if n > 0 {
			return msg, r.Advance(n)
		}

		if res.Completed {
			// drop the partial frame so the writer's error surfaces
			if err := r.Advance(buf.Len()); err != nil {
				return nil, err
			}
			if _, werr := r.Read(ctx); werr != nil {
				return nil, errors.Join(io.ErrUnexpectedEOF, werr)
			}
			return nil, io.ErrUnexpectedEOF
		}
		// a partial frame: wait for more than what is buffered
		if err := r.AdvanceTo(0, buf.Len()); err != nil {
			return nil, err
		}
	}
}

// Frames yields every frame of r until the writer completes. A failure is
// yielded once, as the last element.
func (c Codec) Frames(ctx context.Context, r *segpipe.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := c.Read(ctx, r)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

// decode returns the first frame of buf and the number of bytes it spans,
// or zero if buf does not hold a full frame yet.
func (c Codec) decode(buf segpipe.Buffer) ([]byte, int, error) {
	hdr := buf.Slice(0, min(buf.Len(), binary.MaxVarintLen64)).Bytes()
	size, m := protowire.ConsumeVarint(hdr)
	if m < 0 {
		err := protowire.ParseError(m)
		if errors.Is(err, io.ErrUnexpectedEOF) && len(hdr) < binary.MaxVarintLen64 {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("frame: invalid length prefix: %w", err)
	}
	if size > uint64(c.maxSize) {
		return nil, 0, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, size, c.maxSize)
	}

	end := m + int(size)
	if buf.Len() < end {
		return nil, 0, nil
	}
	return buf.Slice(m, end).Bytes(), end, nil
}
