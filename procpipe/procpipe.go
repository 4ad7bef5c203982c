// Package procpipe connects the standard streams of an external process
// to segpipe pipes.
package procpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/jacoelho/segpipe"
)

// Streams are the pipe ends given to the process. Nil fields leave the
// corresponding stream of the command as it is.
type Streams struct {
	Stdin  *segpipe.Reader
	Stdout *segpipe.Writer
	Stderr *segpipe.Writer
}

type config struct {
	logger *slog.Logger
}

type Option func(*config)

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) {
		if handler != nil {
			c.logger = slog.New(handler)
		}
	}
}

// Run starts cmd and waits for it, feeding Stdin to its input and its
// outputs to Stdout and Stderr. The writers are completed when the process
// exits: without error on a zero exit status, otherwise with an error
// wrapping the *exec.ExitError. Cancelling ctx kills the process and
// cancels the pending read of Stdin.
func Run(ctx context.Context, cmd *exec.Cmd, s Streams, opts ...Option) error {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With(slog.String("cmd", cmd.Path))

	err := run(ctx, cmd, s, logger)
	for _, w := range []*segpipe.Writer{s.Stdout, s.Stderr} {
		if w != nil {
			w.Complete(err)
		}
	}
	return err
}

func run(ctx context.Context, cmd *exec.Cmd, s Streams, logger *slog.Logger) error {
	var (
		stdin       io.WriteCloser
		outs        []io.Reader
		writers     []*segpipe.Writer
		opened      []io.Closer
		startFailed = func(err error) error {
			err = fmt.Errorf("procpipe: start %s: %w", cmd.Path, err)
			for _, c := range opened {
				_ = c.Close()
			}
			if s.Stdin != nil {
				s.Stdin.Complete(err)
			}
			return err
		}
	)

	switch {
	case cmd.Process != nil:
		return startFailed(errors.New("process already started"))
	case s.Stdin != nil && cmd.Stdin != nil:
		return startFailed(errors.New("Stdin already set"))
	case s.Stdout != nil && cmd.Stdout != nil:
		return startFailed(errors.New("Stdout already set"))
	case s.Stderr != nil && cmd.Stderr != nil:
		return startFailed(errors.New("Stderr already set"))
	}

	if s.Stdin != nil {
		in, err := cmd.StdinPipe()
		if err != nil {
			return startFailed(err)
		}
		stdin, opened = in, append(opened, in)
	}
	if s.Stdout != nil {
		out, err := cmd.StdoutPipe()
		if err != nil {
			return startFailed(err)
		}
		outs, writers = append(outs, out), append(writers, s.Stdout)
		opened = append(opened, out)
	}
	if s.Stderr != nil {
		out, err := cmd.StderrPipe()
		if err != nil {
			return startFailed(err)
		}
		outs, writers = append(outs, out), append(writers, s.Stderr)
		opened = append(opened, out)
	}

	if err := cmd.Start(); err != nil {
		return startFailed(err)
	}
	logger = logger.With(slog.Int("pid", cmd.Process.Pid))
	logger.Debug("process started")

	stop := context.AfterFunc(ctx, func() {
		_ = cmd.Process.Kill()
		if s.Stdin != nil {
			s.Stdin.CancelPendingRead()
		}
	})
	defer stop()

	stdinCtx, stopStdin := context.WithCancel(ctx)
	defer stopStdin()
	var stdinDone sync.WaitGroup
	if stdin != nil {
		stdinDone.Go(func() {
			_, err := segpipe.CopyTo(stdinCtx, s.Stdin, stdin)
			_ = stdin.Close()
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				// the process exited before reading all its input
				err = nil
			}
			s.Stdin.Complete(err)
		})
	}

	var pumps sync.WaitGroup
	for i, out := range outs {
		pumps.Go(func() {
			if err := pump(ctx, writers[i], out); err != nil {
				logger.Debug("output dropped", segpipe.LabelError.L(err))
				_, _ = io.Copy(io.Discard, out)
			}
		})
	}
	// every output must be read before Wait closes it
	pumps.Wait()

	waitErr := cmd.Wait()
	stopStdin()
	stdinDone.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Debug("process killed", segpipe.LabelError.L(ctxErr))
		return fmt.Errorf("procpipe: %s: %w", cmd.Path, errors.Join(ctxErr, waitErr))
	}
	if waitErr != nil {
		logger.Debug("process failed", segpipe.LabelError.L(waitErr))
		return fmt.Errorf("procpipe: %s: %w", cmd.Path, waitErr)
	}
	logger.Debug("process exited")
	return nil
}

// pump moves what src yields into w, one flush per read.
func pump(ctx context.Context, w *segpipe.Writer, src io.Reader) error {
	for {
		region, err := w.Allocate(1)
		if err != nil {
			return err
		}
		n, rErr := src.Read(region)
		if err := w.Advance(n); err != nil {
			return err
		}
		if err := w.Flush(ctx); err != nil {
			return err
		}
		if rErr != nil {
			if errors.Is(rErr, io.EOF) {
				return nil
			}
			return rErr
		}
	}
}

// Spawn runs cmd on f with stdin as its input and returns the reader of
// its output.
func Spawn(f *segpipe.Factory, cmd *exec.Cmd, stdin *segpipe.Reader, opts ...Option) (*segpipe.Reader, error) {
	return f.CreateReader(func(ctx context.Context, w *segpipe.Writer) error {
		return Run(ctx, cmd, Streams{Stdin: stdin, Stdout: w}, opts...)
	})
}
