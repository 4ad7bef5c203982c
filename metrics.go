package segpipe

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricPipeBytesFlushed      = []string{"segpipe", "pipe", "bytes", "flushed"}
	MetricPipeBytesConsumed     = []string{"segpipe", "pipe", "bytes", "consumed"}
	MetricPipeUnreadBytes       = []string{"segpipe", "pipe", "unread", "bytes"}
	MetricPipeSegmentsAllocated = []string{"segpipe", "pipe", "segments", "allocated"}
	MetricPipeFlushPaused       = []string{"segpipe", "pipe", "flush", "paused"}
	MetricPipeCancelled         = []string{"segpipe", "pipe", "cancelled"}
	MetricFactoryPipesCreated   = []string{"segpipe", "factory", "pipes", "created"}
	MetricFactoryTasksFailed    = []string{"segpipe", "factory", "tasks", "failed"}
)

type TelemetryLabel string

var (
	LabelPipe  TelemetryLabel = "pipe"
	LabelRole  TelemetryLabel = "role"
	LabelError TelemetryLabel = "error"
	LabelBytes TelemetryLabel = "bytes"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
