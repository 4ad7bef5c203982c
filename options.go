package segpipe

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

const (
	// DefaultSegmentSize is the capacity of a pooled segment.
	DefaultSegmentSize = 4096

	defaultNamePrefix = "pipe"
)

type config struct {
	name         string
	segmentSize  int
	highWater    int
	lowWater     int
	lowWaterSet  bool
	maxSegments  int
	logHandler   slog.Handler
	metricSink   metrics.MetricSink
	metricLabels []metrics.Label
}

func defaultConfig() config {
	return config{
		segmentSize: DefaultSegmentSize,
	}
}

// Option to pass to `Pipe`, `NewFactory` or `Factory.CreatePipe`.
type Option func(*config) error

// WithName names the pipe in logs and metric labels. Given to a `Factory`,
// it is the prefix of the names the factory generates.
func WithName(name string) Option {
	return func(c *config) error {
		c.name = name
		return nil
	}
}

// WithSegmentSize sets the capacity of the segments the pipe allocates.
// Allocations bigger than this get a dedicated segment rounded up to a
// multiple of the size.
func WithSegmentSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("%w: segment size must be positive, got %d", ErrInvalidOptions, size)
		}
		c.segmentSize = size
		return nil
	}
}

// WithHighWaterMark bounds the amount of flushed but unconsumed bytes.
// Once it is exceeded, `Writer.Flush` suspends until the reader brings the
// unread amount down to the low-water mark. Zero disables backpressure.
func WithHighWaterMark(high int) Option {
	return func(c *config) error {
		if high < 0 {
			return fmt.Errorf("%w: high-water mark must not be negative, got %d", ErrInvalidOptions, high)
		}
		c.highWater = high
		return nil
	}
}

// WithLowWaterMark sets where a suspended writer resumes. It defaults to
// half the high-water mark.
func WithLowWaterMark(low int) Option {
	return func(c *config) error {
		if low < 0 {
			return fmt.Errorf("%w: low-water mark must not be negative, got %d", ErrInvalidOptions, low)
		}
		c.lowWater = low
		c.lowWaterSet = true
		return nil
	}
}

// WithMaxSegments caps the number of live segments of a pipe. Allocations
// past the cap fail with `ErrAllocation`. Zero means no cap.
func WithMaxSegments(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: max segments must not be negative, got %d", ErrInvalidOptions, n)
		}
		c.maxSegments = n
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// pipes.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.metricSink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = append([]metrics.Label(nil), labels...)
		return nil
	}
}

func (c config) apply(opts []Option) (config, error) {
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return c, err
		}
	}

	if !c.lowWaterSet {
		c.lowWater = c.highWater / 2
	}
	if c.highWater > 0 && c.lowWater >= c.highWater {
		return c, fmt.Errorf(
			"%w: low-water mark %d must be below high-water mark %d",
			ErrInvalidOptions, c.lowWater, c.highWater,
		)
	}
	return c, nil
}

func (c *config) logger() *slog.Logger {
	if c.logHandler != nil {
		return slog.New(c.logHandler)
	}
	return slog.Default()
}

func (c *config) sink() metrics.MetricSink {
	if c.metricSink != nil {
		return c.metricSink
	}
	return metrics.Default()
}
