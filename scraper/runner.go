// Package scraper runs the external scraper process with a timeout and
// classifies how it ended. Run never returns an error: every ending,
// including a failure to start, is a Result.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrBusy is returned by TryRun while another run is in progress.
var ErrBusy = errors.New("scraper: run already in progress")

// Outcome classifies a run.
type Outcome string

const (
	Success     Outcome = "success"
	Failed      Outcome = "failed"
	TimedOut    Outcome = "timed_out"
	StartFailed Outcome = "start_failed"
)

// Message returns the user-facing sentence for o.
func (o Outcome) Message() string {
	switch o {
	case Success:
		return "Scraper completed successfully"
	case TimedOut:
		return "Scraper timed out"
	case StartFailed:
		return "Failed to start scraper"
	default:
		return "Scraper failed"
	}
}

// Result describes a finished run.
type Result struct {
	Outcome  Outcome       `json:"outcome"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message"`
	// Err is the underlying cause for failed and start_failed runs.
	Err error `json:"-"`
}

// OK reports whether the run succeeded.
func (r Result) OK() bool { return r.Outcome == Success }

// Config configures a Runner.
type Config struct {
	// Command is the argv to run. Default: python python-scripts/scraper.py.
	Command []string
	// Dir is the working directory. Default: the current directory.
	Dir string
	// Timeout kills the process once exceeded. Default: 5m.
	Timeout time.Duration
	// Env entries are appended to the inherited environment.
	Env    []string
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if len(c.Command) == 0 {
		c.Command = []string{"python", "python-scripts/scraper.py"}
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner runs the scraper, one process at a time.
type Runner struct {
	cfg Config
	log *slog.Logger
	mu  sync.Mutex
}

// New creates a Runner.
func New(cfg Config) *Runner {
	cfg.defaults()
	return &Runner{cfg: cfg, log: cfg.Logger.With("component", "scraper")}
}

// TryRun is Run, except it returns ErrBusy instead of waiting when a run is
// already in progress.
func (r *Runner) TryRun(ctx context.Context) (Result, error) {
	if !r.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer r.mu.Unlock()
	return r.run(ctx), nil
}

// Run waits for any run in progress, then runs the scraper to completion,
// until the timeout, or until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx)
}

func (r *Runner) run(ctx context.Context) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.cfg.Dir
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout := r.lineLogger("stdout", slog.LevelInfo)
	stderr := r.lineLogger("stderr", slog.LevelWarn)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Info("scraper: starting", "command", r.cfg.Command, "dir", r.cfg.Dir, "timeout", r.cfg.Timeout)
	if err := cmd.Start(); err != nil {
		return r.finish(start, StartFailed, -1, err)
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	switch {
	case err == nil:
		return r.finish(start, Success, code, nil)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return r.finish(start, TimedOut, code, ctx.Err())
	default:
		return r.finish(start, Failed, code, err)
	}
}

// lineWriter logs each complete line written to it. exec copies the child's
// output into it from a single goroutine per stream.
type lineWriter struct {
	log    *slog.Logger
	stream string
	level  slog.Level
	buf    []byte
}

func (r *Runner) lineLogger(stream string, level slog.Level) *lineWriter {
	return &lineWriter{log: r.log, stream: stream, level: level}
}

const maxLine = 64 * 1024

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush logs a trailing line without a newline.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	w.log.Log(context.Background(), w.level, "scraper: output", "stream", w.stream, "line", string(line))
}

func (r *Runner) finish(start time.Time, o Outcome, code int, err error) Result {
	res := Result{
		Outcome:  o,
		ExitCode: code,
		Duration: time.Since(start),
		Message:  o.Message(),
		Err:      err,
	}
	attrs := []any{"outcome", o, "exit_code", code, "duration_ms", res.Duration.Milliseconds()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if o == Success {
		r.log.Info("scraper: finished", attrs...)
	} else {
		r.log.Warn("scraper: finished", attrs...)
	}
	return res
}
