package codex

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/p-sw/vibecord/internal/logging"
)

var runnerLog = logging.ForComponent(logging.CompRunner)

// termGrace is how long a process gets to exit after SIGTERM before it is
// killed.
const termGrace = 2 * time.Second

// timeoutExitCode is reported when a timed-out process yielded no real
// exit code.
const timeoutExitCode = 124

// Spec describes one external command invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string

	// NotFoundHint is the user-facing message when Command is not on PATH.
	NotFoundHint string

	// Timeout terminates the process after the given duration. Zero means
	// no timeout.
	Timeout time.Duration
}

// Result reports the outcome of a finished invocation. A nonzero exit code
// or a timeout is a Result, never an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Combined returns stdout and stderr joined for parsers that scan the
// whole output.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes external commands. The bridge holds one for batch mode
// and one for interactive (pty-backed) mode.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs commands directly with captured stdio and closed stdin.
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner returns the batch-mode runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{log: runnerLog}
}

// Run spawns the command and waits for it to exit, escalating SIGTERM to
// SIGKILL once the timeout elapses. Only spawn-level failures are errors.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if _, err := exec.LookPath(spec.Command); err != nil {
		return Result{}, &CommandNotFoundError{Command: spec.Command, Hint: spec.NotFoundHint}
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, &CommandNotFoundError{Command: spec.Command, Hint: spec.NotFoundHint}
		}
		return Result{}, &SpawnError{Command: spec.Command, Err: err}
	}

	timedOut, waitErr := r.wait(ctx, cmd, spec.Timeout)

	res := Result{
		ExitCode: exitCode(cmd, timedOut),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
	}
	r.log.Debug("command_finished",
		slog.String("command", spec.Command),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()))
	return res, waitErr
}

// wait blocks until the process exits, the timeout fires, or the context
// is cancelled. Timeout and cancellation both terminate the process with
// SIGTERM, then SIGKILL after the grace period.
func (r *ExecRunner) wait(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (bool, error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-done:
		return false, nil
	case <-timeoutCh:
		r.log.Warn("command_timeout",
			slog.String("command", cmd.Path),
			slog.Duration("timeout", timeout))
		terminate(cmd, done)
		return true, nil
	case <-ctx.Done():
		terminate(cmd, done)
		return false, ctx.Err()
	}
}

// terminate sends SIGTERM and falls back to SIGKILL after the grace
// period, then reaps the process.
func terminate(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-done:
		return
	case <-time.After(termGrace):
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
}

// exitCode extracts the process exit code, substituting 124 when a
// timed-out process died from a signal and never reported one.
func exitCode(cmd *exec.Cmd, timedOut bool) int {
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if code < 0 && timedOut {
		return timeoutExitCode
	}
	return code
}
