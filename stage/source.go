package stage

import (
	"context"
	"encoding/binary"
	"iter"

	"github.com/jacoelho/segpipe"
)

// Fixed is the set of types with a fixed-width binary representation.
type Fixed interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 |
		~float32 | ~float64
}

// FromSequence returns a producer writing every element of seq in its
// fixed-width encoding, one flush per element.
func FromSequence[T Fixed](seq iter.Seq[T], order binary.ByteOrder) segpipe.Producer {
	return FromSequenceErr(func(yield func(T, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}, order)
}

// FromSequenceErr is like `FromSequence` for sequences that can fail. The
// first error stops the producer and completes the pipe with it, after the
// elements produced before it.
func FromSequenceErr[T Fixed](seq iter.Seq2[T, error], order binary.ByteOrder) segpipe.Producer {
	return func(ctx context.Context, w *segpipe.Writer) error {
		var zero T
		size := binary.Size(zero)

		for v, err := range seq {
			if err != nil {
				return err
			}

			region, err := w.Allocate(size)
			if err != nil {
				return err
			}
			n, err := binary.Encode(region, order, v)
			if err != nil {
				return err
			}
			if err := w.Advance(n); err != nil {
				return err
			}
			if err := w.Flush(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// FromBytes returns a producer writing b, one flush per filled segment.
func FromBytes(b []byte) segpipe.Producer {
	return func(ctx context.Context, w *segpipe.Writer) error {
		b := b
		for len(b) > 0 {
			region, err := w.Allocate(1)
			if err != nil {
				return err
			}
			n := copy(region, b)
			if err := w.Advance(n); err != nil {
				return err
			}
			if err := w.Flush(ctx); err != nil {
				return err
			}
			b = b[n:]
		}
		return nil
	}
}
