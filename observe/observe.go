// Package observe republishes the bytes of a pipe to subscribers.
package observe

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/jacoelho/segpipe"
)

// Observer receives the notifications of a `Bridge`. Nil callbacks are
// skipped. The slice given to OnNext is only valid during the call.
type Observer struct {
	OnNext      func([]byte)
	OnError     func(error)
	OnCompleted func()
}

// Bridge reads a pipe and hands every region to its subscribers.
type Bridge struct {
	r      *segpipe.Reader
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]Observer
	nextID uint64
}

type Option func(*Bridge)

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(b *Bridge) {
		if handler != nil {
			b.logger = slog.New(handler)
		}
	}
}

func New(r *segpipe.Reader, opts ...Option) *Bridge {
	b := &Bridge{
		r:      r,
		logger: slog.Default(),
		subs:   make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(segpipe.LabelPipe.L(r.Name()))
	return b
}

// Subscribe adds o to the subscribers. It only sees the regions read
// after it subscribed. The returned function removes it.
func (b *Bridge) Subscribe(o Observer) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = o

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Stop cancels the read the bridge waits on. `Run` then returns without
// notifying anyone and the writer sees `segpipe.ErrPeerGone`.
func (b *Bridge) Stop() {
	b.r.CancelPendingRead()
}

// Run reads the pipe until the writer completes, the bridge is stopped or
// ctx is done. Completion is notified with OnCompleted, a writer error or
// ctx error with OnError. The reader is completed when Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		res, err := b.r.Read(ctx)
		if err == nil {
			// Read serves buffered bytes even once ctx is done
			err = ctx.Err()
		}
		if err != nil {
			b.logger.Debug("bridge failed", segpipe.LabelError.L(err))
			b.each(func(o Observer) {
				if o.OnError != nil {
					o.OnError(err)
				}
			})
			b.r.Complete(err)
			return err
		}
		if res.Cancelled {
			b.logger.Debug("bridge stopped")
			b.r.Complete(nil)
			return nil
		}
		if res.Buffer.IsEmpty() {
			b.each(func(o Observer) {
				if o.OnCompleted != nil {
					o.OnCompleted()
				}
			})
			b.r.Complete(nil)
			return nil
		}

		for seg := range res.Buffer.Segments() {
			b.each(func(o Observer) {
				if o.OnNext != nil {
					o.OnNext(seg)
				}
			})
		}
		if err := b.r.Advance(res.Buffer.Len()); err != nil {
			return err
		}
	}
}

func (b *Bridge) each(fn func(Observer)) {
	b.mu.Lock()
	subs := make([]Observer, 0, len(b.subs))
	for _, id := range slices.Sorted(maps.Keys(b.subs)) {
		subs = append(subs, b.subs[id])
	}
	b.mu.Unlock()

	for _, o := range subs {
		fn(o)
	}
}
