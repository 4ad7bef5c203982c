package segpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"
)

type pipe struct {
	readerErr error
	writerErr error

	writerWait sync.Cond
	readerWait sync.Cond

	arena arena
	ring  *segmentRing

	// unread is flushed and not yet consumed, pending is committed and not
	// yet flushed. Pending bytes always sit after the unread ones.
	unread   int
	pending  int
	examined int
	snapshot int

	name      string
	cfg       config
	logger    *slog.Logger
	sink      metrics.MetricSink
	labels    []metrics.Label
	onReclaim func(*pipe)
	mu        sync.Mutex

	allocating      bool
	hasRegion       bool
	reading         bool
	needAdvance     bool
	readerCompleted bool
	writerCompleted bool
	cancelled       bool
	reclaimed       bool
}

func newPipe(cfg config) *pipe {
	p := &pipe{
		name: cfg.name,
		cfg:  cfg,
		ring: newSegmentRing(4),
		arena: arena{
			maxLive:     cfg.maxSegments,
			segmentSize: cfg.segmentSize,
		},
		sink: cfg.sink(),
	}
	p.labels = append(append([]metrics.Label(nil), cfg.metricLabels...), LabelPipe.M(cfg.name))
	p.logger = cfg.logger().With(LabelPipe.L(cfg.name))
	p.writerWait.L = &p.mu
	p.readerWait.L = &p.mu
	return p
}

// Pipe creates a standalone pipe. Use a `Factory` to have pipes torn down
// together.
func Pipe(opts ...Option) (*Writer, *Reader, error) {
	cfg, err := defaultConfig().apply(opts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.name == "" {
		cfg.name = defaultNamePrefix
	}
	p := newPipe(cfg)
	return &Writer{p}, &Reader{p}, nil
}

func (p *pipe) writerClosedLocked() error {
	if p.writerErr != nil {
		return fmt.Errorf("%w: %w", ErrWriterCompleted, p.writerErr)
	}
	return ErrWriterCompleted
}

func (p *pipe) readerClosedLocked() error {
	if p.readerErr != nil {
		return fmt.Errorf("%w: %w", ErrReaderCompleted, p.readerErr)
	}
	return ErrReaderCompleted
}

// peerLocked reports whether the reader side is gone.
func (p *pipe) peerLocked() error {
	if p.readerCompleted {
		return peerGone(p.readerErr)
	}
	if p.cancelled {
		return peerGone(ErrCancelled)
	}
	return nil
}

func (p *pipe) stateLocked() State {
	drained := p.writerCompleted && p.unread == 0
	switch {
	case p.writerErr != nil || p.readerErr != nil:
		return StateErrored
	case p.cancelled:
		return StateCancelled
	case p.readerCompleted && !drained:
		return StateCancelled
	case drained:
		return StateCompleted
	case p.writerCompleted:
		return StateDraining
	}
	return StateOpen
}

func (p *pipe) state() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// reserveLocked makes sure the tail segment has at least n free bytes and
// returns its free region.
func (p *pipe) reserveLocked(n int) ([]byte, error) {
	n = max(n, 1)
	if !p.ring.empty() {
		tail := &p.arena.segs[p.ring.back()]
		if tail.free() >= n {
			return tail.data[tail.written:], nil
		}
		tail.seal()
	}

	idx, err := p.arena.alloc(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %d live segments", err, p.arena.live)
	}
	p.ring.push(idx)
	p.sink.IncrCounterWithLabels(MetricPipeSegmentsAllocated, 1, p.labels)

	s := &p.arena.segs[idx]
	return s.data[s.written:], nil
}

func (p *pipe) allocate(minSize int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerCompleted {
		return nil, p.writerClosedLocked()
	}
	if err := p.peerLocked(); err != nil {
		return nil, err
	}
	if p.allocating {
		return nil, ErrAllocationPending
	}

	region, err := p.reserveLocked(minSize)
	if err != nil {
		return nil, err
	}
	p.allocating = true
	p.hasRegion = true
	return region, nil
}

func (p *pipe) ensure(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerCompleted {
		return nil, p.writerClosedLocked()
	}
	if err := p.peerLocked(); err != nil {
		return nil, err
	}
	if !p.allocating {
		return nil, ErrNoAllocation
	}

	region, err := p.reserveLocked(n)
	if err != nil {
		return nil, err
	}
	p.hasRegion = true
	return region, nil
}

func (p *pipe) commit(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerCompleted {
		return p.writerClosedLocked()
	}
	if !p.hasRegion {
		return ErrNoAllocation
	}

	tail := &p.arena.segs[p.ring.back()]
	if n < 0 || n > tail.free() {
		return fmt.Errorf("%w: %d bytes, %d available", ErrCommitTooLarge, n, tail.free())
	}
	tail.written += n
	p.pending += n
	p.hasRegion = false
	return nil
}

func (p *pipe) unflushed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// flush publishes the pending bytes and applies backpressure.
func (p *pipe) flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerCompleted {
		return p.writerClosedLocked()
	}
	p.allocating = false
	p.hasRegion = false

	if err := p.peerLocked(); err != nil {
		p.dropPendingLocked()
		return err
	}

	if p.pending > 0 {
		p.sink.IncrCounterWithLabels(MetricPipeBytesFlushed, float32(p.pending), p.labels)
		p.unread += p.pending
		p.pending = 0
		p.sink.AddSampleWithLabels(MetricPipeUnreadBytes, float32(p.unread), p.labels)
		p.readerWait.Broadcast()
	}

	if p.cfg.highWater == 0 || p.unread <= p.cfg.highWater {
		return nil
	}

	p.sink.IncrCounterWithLabels(MetricPipeFlushPaused, 1, p.labels)
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.writerWait.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for {
		// terminal states first: a reclaimed pipe has no unread bytes left
		if p.writerCompleted {
			return p.writerClosedLocked()
		}
		if err := p.peerLocked(); err != nil {
			return err
		}
		if p.unread <= p.cfg.lowWater {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.writerWait.Wait()
	}
}

// dropPendingLocked forgets committed bytes that were never flushed.
func (p *pipe) dropPendingLocked() {
	for p.pending > 0 && !p.ring.empty() {
		idx := p.ring.back()
		s := &p.arena.segs[idx]
		take := min(p.pending, s.unread())
		s.written -= take
		p.pending -= take
		if s.unread() > 0 || p.ring.len() == 1 {
			break
		}
		p.ring.popBack()
		p.arena.release(idx)
	}
	p.pending = 0
}

func (p *pipe) readableLocked() error {
	if p.reading {
		return ErrReadPending
	}
	if p.readerCompleted {
		return p.readerClosedLocked()
	}
	if p.needAdvance && !p.cancelled {
		return ErrNotAdvanced
	}
	return nil
}

func (p *pipe) readyLocked() bool {
	return p.unread > p.examined || p.writerCompleted
}

func (p *pipe) read(ctx context.Context) (ReadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.readableLocked(); err != nil {
		return ReadResult{}, err
	}
	if p.cancelled {
		return ReadResult{Cancelled: true}, nil
	}
	if p.readyLocked() {
		return p.resultLocked()
	}
	if err := ctx.Err(); err != nil {
		return ReadResult{}, err
	}

	p.reading = true
	defer func() { p.reading = false }()
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.readerWait.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for {
		p.readerWait.Wait()
		switch {
		case p.readerCompleted:
			return ReadResult{}, p.readerClosedLocked()
		case p.cancelled:
			return ReadResult{Cancelled: true}, nil
		case p.readyLocked():
			return p.resultLocked()
		case ctx.Err() != nil:
			return ReadResult{}, ctx.Err()
		}
	}
}

func (p *pipe) tryRead() (ReadResult, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.readableLocked(); err != nil {
		return ReadResult{}, false, err
	}
	if p.cancelled {
		return ReadResult{Cancelled: true}, true, nil
	}
	if !p.readyLocked() {
		return ReadResult{}, false, nil
	}
	res, err := p.resultLocked()
	return res, true, err
}

func (p *pipe) resultLocked() (ReadResult, error) {
	buf := p.snapshotLocked()
	res := ReadResult{Buffer: buf, Completed: p.writerCompleted}
	if buf.IsEmpty() {
		// only reachable once the writer completed and everything was consumed
		return res, p.writerErr
	}
	p.snapshot = buf.Len()
	p.needAdvance = true
	return res, nil
}

func (p *pipe) snapshotLocked() Buffer {
	buf := Buffer{n: p.unread}
	remaining := p.unread
	for i := 0; remaining > 0 && i < p.ring.len(); i++ {
		s := &p.arena.segs[p.ring.at(i)]
		chunk := min(s.unread(), remaining)
		if chunk > 0 {
			buf.segs = append(buf.segs, s.data[s.consumed:s.consumed+chunk])
		}
		remaining -= chunk
	}
	return buf
}

func (p *pipe) advance(consumed, examined int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerCompleted {
		return p.readerClosedLocked()
	}
	if !p.needAdvance {
		return ErrNothingToAdvance
	}
	if consumed < 0 || examined < consumed || examined > p.snapshot {
		return fmt.Errorf(
			"%w: consumed %d, examined %d, read %d",
			ErrAdvanceOutOfRange, consumed, examined, p.snapshot,
		)
	}

	p.releaseLocked(consumed)
	p.examined = examined - consumed
	p.snapshot = 0
	p.needAdvance = false

	if consumed > 0 {
		p.sink.IncrCounterWithLabels(MetricPipeBytesConsumed, float32(consumed), p.labels)
		p.writerWait.Broadcast()
	}
	return nil
}

// releaseLocked consumes n flushed bytes from the head of the sequence.
func (p *pipe) releaseLocked(n int) {
	p.unread -= n
	for !p.ring.empty() {
		idx := p.ring.front()
		s := &p.arena.segs[idx]
		take := min(s.unread(), n)
		s.consumed += take
		n -= take
		if s.consumed < s.written {
			return
		}
		if p.ring.len() == 1 {
			// the writer may hold a region right after written
			if !p.allocating {
				s.reset()
			}
			return
		}
		p.ring.popFront()
		p.arena.release(idx)
	}
}

func (p *pipe) cancelPendingRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled || p.readerCompleted {
		return
	}
	p.cancelled = true
	p.sink.IncrCounterWithLabels(MetricPipeCancelled, 1, p.labels)
	p.logger.Debug("pending read cancelled")
	p.readerWait.Broadcast()
	p.writerWait.Broadcast()
}

func (p *pipe) completeWriter(err error) {
	p.mu.Lock()
	reclaimed := p.completeWriterLocked(err, true)
	p.mu.Unlock()
	p.afterReclaim(reclaimed)
}

func (p *pipe) completeWriterLocked(err error, recycle bool) bool {
	if p.writerCompleted {
		return false
	}
	// a region or a snapshot may still be in use by the other goroutine
	recycle = recycle && !p.allocating && !p.needAdvance
	p.writerCompleted = true
	p.writerErr = err
	p.dropPendingLocked()
	p.allocating = false
	p.hasRegion = false
	if err != nil && !errors.Is(err, ErrShuttingDown) {
		p.logger.Debug("writer completed with error", LabelError.L(err))
	}
	p.readerWait.Broadcast()
	p.writerWait.Broadcast()
	return p.reclaimLocked(recycle)
}

func (p *pipe) completeReader(err error) {
	p.mu.Lock()
	reclaimed := p.completeReaderLocked(err, true)
	p.mu.Unlock()
	p.afterReclaim(reclaimed)
}

func (p *pipe) completeReaderLocked(err error, recycle bool) bool {
	if p.readerCompleted {
		return false
	}
	recycle = recycle && !p.allocating && !p.needAdvance
	p.readerCompleted = true
	p.readerErr = err
	p.readerWait.Broadcast()
	p.writerWait.Broadcast()
	return p.reclaimLocked(recycle)
}

// shutdown completes whatever side is still open with cause. The owners of
// the handles may still be running, so memory is left to the GC.
func (p *pipe) shutdown(cause error) {
	p.mu.Lock()
	reclaimed := p.completeWriterLocked(cause, false)
	reclaimed = p.completeReaderLocked(cause, false) || reclaimed
	p.mu.Unlock()
	p.afterReclaim(reclaimed)
}

func (p *pipe) reclaimLocked(recycle bool) bool {
	if p.reclaimed || !p.writerCompleted || !p.readerCompleted {
		return false
	}
	p.reclaimed = true
	p.arena.reclaim(recycle)
	p.ring.reset()
	p.unread, p.pending, p.examined, p.snapshot = 0, 0, 0, 0
	p.needAdvance = false
	p.logger.Debug("pipe reclaimed")
	return true
}

func (p *pipe) afterReclaim(reclaimed bool) {
	if reclaimed && p.onReclaim != nil {
		p.onReclaim(p)
	}
}
