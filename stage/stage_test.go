package stage_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/jacoelho/segpipe"
	"github.com/jacoelho/segpipe/stage"
)

func TestMaskPipeline(t *testing.T) {
	f := newTestFactory(t, segpipe.WithHighWaterMark(1024))

	src, err := f.CreateReader(stage.FromSequence(byteRange(10000), binary.LittleEndian))
	require.NoError(t, err)
	masked, err := stage.Chain(f, src, stage.Mask(0x0F))
	require.NoError(t, err)

	got, err := readAll(t, masked)
	require.NoError(t, err)
	require.Len(t, got, 10000)
	for i, b := range got {
		if b != byte(i%256%16) {
			t.Fatalf("byte %d: expected %#x, got %#x", i, i%256%16, b)
		}
	}

	masked.Complete(nil)
	require.NoError(t, f.Wait())
}

func TestSourceErrorReachesConsumer(t *testing.T) {
	f := newTestFactory(t)
	boom := errors.New("source failed")

	seq := func(yield func(uint8, error) bool) {
		for i := range 500 {
			if !yield(uint8(i), nil) {
				return
			}
		}
		yield(0, boom)
	}

	src, err := f.CreateReader(stage.FromSequenceErr(seq, binary.LittleEndian))
	require.NoError(t, err)
	masked, err := stage.Chain(f, src, stage.Mask(0xFF))
	require.NoError(t, err)

	got, err := readAll(t, masked)
	require.ErrorIs(t, err, boom)
	require.Len(t, got, 500)
	for i, b := range got {
		require.Equal(t, byte(i), b)
	}

	require.ErrorIs(t, f.Wait(), boom)
	require.Equal(t, segpipe.StateErrored, masked.State())
}

func TestFromSequenceEncoding(t *testing.T) {
	w, r := newTestPipe(t)

	seq := func(yield func(uint32) bool) {
		_ = yield(1) && yield(0x01020304)
	}

	errCh := make(chan error, 1)
	go func() {
		err := stage.FromSequence(iter.Seq[uint32](seq), binary.BigEndian)(testCtx(t), w)
		w.Complete(err)
		errCh <- err
	}()

	got, err := readAll(t, r)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, []byte{0, 0, 0, 1, 1, 2, 3, 4}, got)
}

func TestFromBytesSpansSegments(t *testing.T) {
	w, r := newTestPipe(t, segpipe.WithSegmentSize(4))
	data := []byte("spread over several segments")

	go func() {
		w.Complete(stage.FromBytes(data)(testCtx(t), w))
	}()

	got, err := readAll(t, r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestTransformFilter(t *testing.T) {
	upW, upR := newTestPipe(t, segpipe.WithSegmentSize(4))
	downW, downR := newTestPipe(t, segpipe.WithSegmentSize(4))

	evens := func(dst, src []byte) int {
		n := 0
		for _, b := range src {
			if b%2 == 0 {
				dst[n] = b
				n++
			}
		}
		return n
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- stage.Transform(testCtx(t), upR, downW, evens)
	}()

	input := make([]byte, 100)
	for i := range input {
		input[i] = byte(i)
	}
	go func() {
		mustWrite(t, upW, input)
		upW.Complete(nil)
	}()

	got, err := readAll(t, downR)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Len(t, got, 50)
	for i, b := range got {
		require.Equal(t, byte(2*i), b)
	}
}

func TestTransformStopsOnCancel(t *testing.T) {
	upW, upR := newTestPipe(t)
	downW, downR := newTestPipe(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- stage.Copy(testCtx(t), upR, downW)
	}()

	time.Sleep(10 * time.Millisecond)
	upR.CancelPendingRead()
	require.NoError(t, <-errCh)

	require.Equal(t, segpipe.StateOpen, downR.State(), "downstream is left untouched")
	_, ok, err := downR.TryRead()
	require.NoError(t, err)
	require.False(t, ok)

	_, err = upW.Write([]byte("late"))
	require.ErrorIs(t, err, segpipe.ErrPeerGone)
	require.ErrorIs(t, err, segpipe.ErrCancelled)
}

func TestTransformPropagatesPeerGone(t *testing.T) {
	upW, upR := newTestPipe(t)
	downW, downR := newTestPipe(t)
	stop := errors.New("consumer stopped")

	downR.Complete(stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- stage.Copy(testCtx(t), upR, downW)
	}()

	mustWrite(t, upW, []byte("abc"))
	err := <-errCh
	require.ErrorIs(t, err, segpipe.ErrPeerGone)
	require.ErrorIs(t, err, stop)

	_, err = upW.Write([]byte("more"))
	require.ErrorIs(t, err, segpipe.ErrPeerGone)
	require.ErrorIs(t, err, stop)
}

func TestTransformContextDone(t *testing.T) {
	_, upR := newTestPipe(t)
	downW, downR := newTestPipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- stage.Copy(ctx, upR, downW)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	_, err := readAll(t, downR)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInto(t *testing.T) {
	f := newTestFactory(t)

	out, r, err := f.CreatePipe()
	require.NoError(t, err)
	in, err := stage.Into(f, out, stage.Mask(0x0F))
	require.NoError(t, err)

	mustWrite(t, in, []byte{0xff, 0xf1, 0x2a})
	in.Complete(nil)

	got, err := readAll(t, r)
	require.NoError(t, err)
	require.Equal(t, []byte{0x0f, 0x01, 0x0a}, got)
	require.NoError(t, f.Wait())
}

func TestChainAfterClose(t *testing.T) {
	f, err := segpipe.NewFactory(segpipe.WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, err)
	_, r, err := f.CreatePipe()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = stage.Chain(f, r, stage.Identity)
	require.ErrorIs(t, err, segpipe.ErrShuttingDown)
}

func byteRange(n int) iter.Seq[uint8] {
	return func(yield func(uint8) bool) {
		for i := range n {
			if !yield(uint8(i)) {
				return
			}
		}
	}
}

func newTestFactory(t *testing.T, opts ...segpipe.Option) *segpipe.Factory {
	t.Helper()
	opts = append([]segpipe.Option{segpipe.WithMetricSink(&metrics.BlackholeSink{})}, opts...)
	f, err := segpipe.NewFactory(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})
	return f
}

func newTestPipe(t *testing.T, opts ...segpipe.Option) (*segpipe.Writer, *segpipe.Reader) {
	t.Helper()
	opts = append([]segpipe.Option{segpipe.WithMetricSink(&metrics.BlackholeSink{})}, opts...)
	w, r, err := segpipe.Pipe(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustWrite(t *testing.T, w *segpipe.Writer, data []byte) {
	t.Helper()
	n, err := w.Write(data)
	if err != nil {
		t.Errorf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected to write %d bytes, wrote %d", len(data), n)
	}
}

func readAll(t *testing.T, r *segpipe.Reader) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	_, err := segpipe.CopyTo(testCtx(t), r, &out)
	return out.Bytes(), err
}
