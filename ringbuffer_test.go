package segpipe

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
)

func TestSegmentRingWrapAround(t *testing.T) {
	r := newSegmentRing(3)

	r.push(1)
	r.push(2)
	require.Equal(t, 1, r.popFront())
	r.push(3)
	r.push(4)
	require.True(t, r.full())

	require.Equal(t, 3, r.len())
	require.Equal(t, []int{2, 3, 4}, ringContents(r))
	require.Equal(t, 4, r.back())
}

func TestSegmentRingGrow(t *testing.T) {
	r := newSegmentRing(2)

	r.push(1)
	r.push(2)
	require.Equal(t, 1, r.popFront())
	r.push(3)
	r.push(4) // full, wrapped: grows
	r.push(5)

	require.Equal(t, []int{2, 3, 4, 5}, ringContents(r))
	require.Equal(t, 5, r.popBack())
	require.Equal(t, 2, r.front())
	require.Equal(t, 3, r.len())
}

func TestArenaReusesReleasedSegments(t *testing.T) {
	a := arena{segmentSize: 8}

	first, err := a.alloc(1)
	require.NoError(t, err)
	second, err := a.alloc(1)
	require.NoError(t, err)
	require.Equal(t, 2, a.live)

	a.segs[first].written = 5
	a.release(first)
	require.Equal(t, 1, a.live)

	again, err := a.alloc(1)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Zero(t, a.segs[again].written)
	require.Len(t, a.segs[again].data, 8)
	require.NotEqual(t, second, again)
}

func TestArenaRoundsUpLargeAllocations(t *testing.T) {
	a := arena{segmentSize: 8}

	idx, err := a.alloc(20)
	require.NoError(t, err)
	require.Len(t, a.segs[idx].data, 24)

	a.release(idx)
	require.Nil(t, a.segs[idx].data, "oversized blocks are not kept")

	idx, err = a.alloc(1)
	require.NoError(t, err)
	require.Len(t, a.segs[idx].data, 8)
}

func TestArenaLimit(t *testing.T) {
	a := arena{segmentSize: 8, maxLive: 1}

	_, err := a.alloc(1)
	require.NoError(t, err)
	_, err = a.alloc(1)
	require.ErrorIs(t, err, ErrAllocation)
}

func TestPipeRecyclesTailInPlace(t *testing.T) {
	cfg, err := defaultConfig().apply([]Option{
		WithSegmentSize(8),
		WithMetricSink(&metrics.BlackholeSink{}),
	})
	require.NoError(t, err)
	p := newPipe(cfg)
	w, r := &Writer{p}, &Reader{p}
	ctx := context.Background()

	for range 5 {
		_, err := w.Write([]byte("abcdef"))
		require.NoError(t, err)

		res, err := r.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, r.Advance(res.Buffer.Len()))
	}

	// consumed segments are either reset in place or back on the free list
	require.LessOrEqual(t, p.arena.live, 2)
	require.Zero(t, p.unread)

	w.Complete(nil)
	r.Complete(nil)
	require.True(t, p.reclaimed)
	require.Zero(t, p.arena.live)
}

func TestShutdownFailsBlockedFlush(t *testing.T) {
	cfg, err := defaultConfig().apply([]Option{
		WithHighWaterMark(2),
		WithMetricSink(&metrics.BlackholeSink{}),
	})
	require.NoError(t, err)
	p := newPipe(cfg)
	w := &Writer{p}

	flushErr := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("over the mark"))
		flushErr <- err
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.unread > 0
	}, time.Second, time.Millisecond)

	p.shutdown(ErrShuttingDown)
	require.ErrorIs(t, <-flushErr, ErrShuttingDown)
	require.True(t, p.reclaimed)
}

func TestCompleteWithHeldRegionSkipsRecycle(t *testing.T) {
	cfg, err := defaultConfig().apply([]Option{
		WithMetricSink(&metrics.BlackholeSink{}),
	})
	require.NoError(t, err)
	p := newPipe(cfg)
	w, r := &Writer{p}, &Reader{p}

	region, err := w.Allocate(1)
	require.NoError(t, err)
	r.Complete(nil)
	w.Complete(nil)
	require.True(t, p.reclaimed)

	// the block stays with the caller instead of going back to the pool
	for range 8 {
		fresh := getBlock(DefaultSegmentSize)
		require.NotSame(t, &region[0], &fresh[0])
		putBlock(fresh)
	}
}

func ringContents(r *segmentRing) []int {
	out := make([]int, 0, r.len())
	for i := range r.len() {
		out = append(out, r.at(i))
	}
	return out
}
