package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// defaultGracefulTimeout is how long a signalled tool gets to exit
// before SIGKILL.
const defaultGracefulTimeout = 5 * time.Second

// ErrToolFailed is returned when a tool exits non-zero.
var ErrToolFailed = errors.New("toolrunner: tool exited with failure")

// Logger defines the logging interface used by the Runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds runner settings.
type Config struct {
	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL
	// when a run is cancelled or times out. Zero selects the default.
	GracefulTimeout time.Duration
}

// Result describes one completed tool invocation.
type Result struct {
	// Command is the full command line, for logs and board records.
	Command string `json:"command"`

	// Output is the combined stdout and stderr.
	Output string `json:"output"`

	// ExitCode is the tool's exit code; -1 when killed by a signal.
	ExitCode int `json:"exit_code"`

	// Elapsed is the wall time of the invocation.
	Elapsed time.Duration `json:"elapsed"`
}

// Stats holds runner counters for monitoring.
type Stats struct {
	RunsTotal int64 `json:"runs_total"`
	Failures  int64 `json:"failures"`
}

// Runner executes external tools to completion with output capture and
// process-group kill escalation.
//
// Each tool gets its own process group so that cancellation can signal
// the tool and any children it spawned in one stroke: SIGTERM first,
// SIGKILL when the graceful timeout passes.
//
// All methods are safe for concurrent use.
type Runner struct {
	graceful time.Duration
	logger   Logger

	runsTotal atomic.Int64
	failures  atomic.Int64
}

// New creates a runner.
//
// Parameters:
//   - cfg: Runner settings
//   - logger: Logger instance (nil for no logging)
func New(cfg Config, logger Logger) *Runner {
	graceful := cfg.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Runner{graceful: graceful, logger: logger}
}

// Run executes one command and waits for it to finish.
//
// On context cancellation or deadline the process group is signalled
// and the context's error returned; the output captured up to that
// point is in the Result. A non-zero exit returns ErrToolFailed, again
// with the full Result alongside.
func (r *Runner) Run(ctx context.Context, binary string, args ...string) (*Result, error) {
	start := time.Now()
	r.runsTotal.Add(1)

	cmd := exec.Command(binary, args...) //nolint:gosec // Binary path comes from validated configuration

	// Own process group so kill escalation reaches any children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// os/exec serialises writes when stdout and stderr share a writer
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debug("running tool", "binary", binary, "args", args)

	if err := cmd.Start(); err != nil {
		r.failures.Add(1)
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-exitCh:
	case <-ctx.Done():
		r.terminate(cmd, exitCh)
		waitErr = ctx.Err()
	}

	res := &Result{
		Command: commandLine(binary, args),
		Output:  output.String(),
		Elapsed: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case waitErr == nil:
		r.logger.Debug("tool finished", "binary", binary, "elapsed", res.Elapsed.String())
		return res, nil
	case errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded):
		r.failures.Add(1)
		return res, fmt.Errorf("tool %s: %w", binary, waitErr)
	default:
		r.failures.Add(1)
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%w: %s exited %d", ErrToolFailed, binary, res.ExitCode)
		}
		return res, fmt.Errorf("running %s: %w", binary, waitErr)
	}
}

// terminate signals the process group with SIGTERM and escalates to
// SIGKILL when the tool does not exit within the graceful timeout.
func (r *Runner) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	r.logger.Warn("terminating tool", "pid", pid)

	// Negative PID signals the whole group created via Setpgid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to signal process group", "pid", pid, "error", err)
	}

	select {
	case <-exitCh:
		return
	case <-time.After(r.graceful):
	}

	r.logger.Warn("tool ignored SIGTERM, killing", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Error("failed to kill process group", "pid", pid, "error", err)
	}
	<-exitCh
}

// Stats returns current runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		RunsTotal: r.runsTotal.Load(),
		Failures:  r.failures.Load(),
	}
}

func commandLine(binary string, args []string) string {
	if len(args) == 0 {
		return binary
	}
	return binary + " " + strings.Join(args, " ")
}
