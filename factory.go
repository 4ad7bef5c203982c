package segpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hashicorp/go-metrics"
	"gopkg.in/tomb.v2"
)

// Producer fills a pipe. The Writer is completed with the returned error
// once it returns, so it must flush what it wants delivered.
type Producer func(ctx context.Context, w *Writer) error

// Consumer drains a pipe. The Reader is completed with the returned error
// once it returns.
type Consumer func(ctx context.Context, r *Reader) error

// Factory creates pipes and runs the goroutines bound to them. Closing it
// completes every pipe still open with `ErrShuttingDown` and waits for
// those goroutines.
type Factory struct {
	cfg    config
	logger *slog.Logger
	sink   metrics.MetricSink

	tomb  tomb.Tomb
	ctx   context.Context
	tasks sync.WaitGroup

	mu     sync.Mutex
	pipes  map[*pipe]struct{}
	errs   []error
	seq    uint64
	closed bool
}

// NewFactory creates a Factory. The options are the defaults of every pipe
// it creates.
func NewFactory(opts ...Option) (*Factory, error) {
	cfg, err := defaultConfig().apply(opts)
	if err != nil {
		return nil, err
	}
	if cfg.name == "" {
		cfg.name = defaultNamePrefix
	}

	f := &Factory{
		cfg:    cfg,
		logger: cfg.logger(),
		sink:   cfg.sink(),
		pipes:  make(map[*pipe]struct{}),
	}
	f.ctx = f.tomb.Context(context.Background())

	// keeps the tomb alive until Close, so tasks can be attached at any time
	f.tomb.Go(func() error {
		<-f.tomb.Dying()
		return nil
	})
	return f, nil
}

// CreatePipe creates a pipe owned by the factory. opts override the
// factory defaults.
func (f *Factory) CreatePipe(opts ...Option) (*Writer, *Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil, ErrShuttingDown
	}

	base := f.cfg
	base.name = ""
	cfg, err := base.apply(opts)
	if err != nil {
		return nil, nil, err
	}
	f.seq++
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("%s-%d", f.cfg.name, f.seq)
	}

	p := newPipe(cfg)
	p.onReclaim = f.forget
	f.pipes[p] = struct{}{}

	f.sink.IncrCounterWithLabels(MetricFactoryPipesCreated, 1, f.cfg.metricLabels)
	f.logger.Debug("pipe created", LabelPipe.L(cfg.name))
	return &Writer{p}, &Reader{p}, nil
}

// CreateReader creates a pipe fed by producer and returns its reader.
func (f *Factory) CreateReader(producer Producer, opts ...Option) (*Reader, error) {
	w, r, err := f.CreatePipe(opts...)
	if err != nil {
		return nil, err
	}
	if err := f.AttachProducer(w, producer); err != nil {
		w.p.shutdown(err)
		return nil, err
	}
	return r, nil
}

// CreateWriter creates a pipe drained by consumer and returns its writer.
func (f *Factory) CreateWriter(consumer Consumer, opts ...Option) (*Writer, error) {
	w, r, err := f.CreatePipe(opts...)
	if err != nil {
		return nil, err
	}
	if err := f.AttachConsumer(r, consumer); err != nil {
		r.p.shutdown(err)
		return nil, err
	}
	return w, nil
}

// AttachProducer runs producer in its own goroutine, then completes w with
// the error it returned.
func (f *Factory) AttachProducer(w *Writer, producer Producer) error {
	return f.spawn(w.p.name, "producer", func(ctx context.Context) error {
		err := producer(ctx, w)
		w.Complete(err)
		return err
	})
}

// AttachConsumer runs consumer in its own goroutine, then completes r with
// the error it returned.
func (f *Factory) AttachConsumer(r *Reader, consumer Consumer) error {
	return f.spawn(r.p.name, "consumer", func(ctx context.Context) error {
		err := consumer(ctx, r)
		r.Complete(err)
		return err
	})
}

func (f *Factory) spawn(name, role string, task func(context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrShuttingDown
	}

	f.tasks.Add(1)
	f.tomb.Go(func() error {
		defer f.tasks.Done()
		err := task(f.ctx)
		if err == nil {
			return nil
		}

		f.sink.IncrCounterWithLabels(
			MetricFactoryTasksFailed, 1,
			append(slices.Clip(f.cfg.metricLabels), LabelRole.M(role)),
		)
		f.logger.Warn("task failed", LabelPipe.L(name), LabelRole.L(role), LabelError.L(err))

		f.mu.Lock()
		f.errs = append(f.errs, fmt.Errorf("%s %s: %w", name, role, err))
		f.mu.Unlock()
		// errors travel through the pipes, the tomb only tracks lifetimes
		return nil
	})
	return nil
}

// Wait blocks until every attached task returned and reports their errors.
func (f *Factory) Wait() error {
	f.tasks.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Join(f.errs...)
}

// Live returns the number of pipes whose both sides are not completed yet.
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pipes)
}

// Close completes every open pipe with `ErrShuttingDown`, cancels the
// context handed to tasks and waits for them to return.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	open := make([]*pipe, 0, len(f.pipes))
	for p := range f.pipes {
		open = append(open, p)
	}
	f.mu.Unlock()

	if len(open) > 0 {
		f.logger.Debug("shutting down open pipes", slog.Int("count", len(open)))
	}
	for _, p := range open {
		p.shutdown(ErrShuttingDown)
	}

	f.tomb.Kill(nil)
	_ = f.tomb.Wait()
	return nil
}

func (f *Factory) forget(p *pipe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pipes, p)
}
