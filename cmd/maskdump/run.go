package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/hashicorp/go-metrics"

	"github.com/jacoelho/segpipe"
	"github.com/jacoelho/segpipe/observe"
	"github.com/jacoelho/segpipe/stage"
)

type options struct {
	count   int
	width   int
	mask    uint
	verbose bool
}

func parseArgs(argv []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("maskdump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.count, "n", 1000, "number of integers to produce")
	fs.IntVar(&opts.width, "width", 4, "bytes per integer: 1, 2, 4 or 8")
	fs.UintVar(&opts.mask, "mask", 0x0f, "bitmask applied to every byte")
	fs.BoolVar(&opts.verbose, "v", false, "log pipeline events")
	if err := fs.Parse(argv); err != nil {
		return opts, err
	}

	switch {
	case opts.count < 0:
		return opts, fmt.Errorf("-n must not be negative, got %d", opts.count)
	case opts.mask > 0xff:
		return opts, fmt.Errorf("-mask must fit in a byte, got %#x", opts.mask)
	}
	return opts, nil
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(argv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	out := bufio.NewWriter(stdout)
	if err := dump(ctx, opts, handler, out); err != nil {
		_ = out.Flush()
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	if err := out.Flush(); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func dump(ctx context.Context, opts options, handler slog.Handler, out io.Writer) error {
	source, err := sourceFor(opts.count, opts.width)
	if err != nil {
		return err
	}

	f, err := segpipe.NewFactory(
		segpipe.WithName("maskdump"),
		segpipe.WithHighWaterMark(64*1024),
		segpipe.WithLog(handler),
		segpipe.WithMetricSink(&metrics.BlackholeSink{}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	src, err := f.CreateReader(source)
	if err != nil {
		return err
	}
	masked, err := stage.Chain(f, src, stage.Mask(byte(opts.mask)))
	if err != nil {
		return err
	}

	bridge := observe.New(masked, observe.WithLog(handler))
	hex := &hexDumper{w: out}
	var writeErr error
	bridge.Subscribe(observe.Observer{
		OnNext: func(b []byte) {
			if writeErr != nil {
				return
			}
			if writeErr = hex.write(b); writeErr != nil {
				bridge.Stop()
			}
		},
		OnCompleted: func() {
			writeErr = hex.finish()
		},
	})

	if err := bridge.Run(ctx); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	return f.Wait()
}

func sourceFor(count, width int) (segpipe.Producer, error) {
	switch width {
	case 1:
		return stage.FromSequence(rangeOf[uint8](count), binary.LittleEndian), nil
	case 2:
		return stage.FromSequence(rangeOf[uint16](count), binary.LittleEndian), nil
	case 4:
		return stage.FromSequence(rangeOf[int32](count), binary.LittleEndian), nil
	case 8:
		return stage.FromSequence(rangeOf[int64](count), binary.LittleEndian), nil
	default:
		return nil, fmt.Errorf("-width must be 1, 2, 4 or 8, got %d", width)
	}
}

func rangeOf[T stage.Fixed](n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := range n {
			if !yield(T(i)) {
				return
			}
		}
	}
}

// hexDumper prints bytes as "xx:xx:...:xx" lines of sixteen.
type hexDumper struct {
	w   io.Writer
	off int
}

const hexDigits = "0123456789abcdef"

func (d *hexDumper) write(b []byte) error {
	line := make([]byte, 0, 3*len(b))
	for _, c := range b {
		line = append(line, hexDigits[c>>4], hexDigits[c&0x0f])
		if d.off&0x0f == 0x0f {
			line = append(line, '\n')
		} else {
			line = append(line, ':')
		}
		d.off++
	}
	_, err := d.w.Write(line)
	return err
}

func (d *hexDumper) finish() error {
	if d.off&0x0f == 0 {
		return nil
	}
	_, err := io.WriteString(d.w, "\n")
	return err
}
