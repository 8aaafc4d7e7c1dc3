//go:build !windows

package codex

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// PTYRunner runs commands under a pseudo-terminal. Codex's interactive mode
// only emits its full output when it detects a real terminal, so meta
// commands like /status go through here instead of the batch runner.
type PTYRunner struct {
	rows uint16
	cols uint16
	log  *slog.Logger
}

// NewPTYRunner returns the interactive-mode runner.
func NewPTYRunner() *PTYRunner {
	return &PTYRunner{rows: 40, cols: 120, log: runnerLog}
}

// Run starts the command on a fresh pty and drains its output until exit,
// timeout, or context cancellation. Stdout carries the combined terminal
// output; Stderr is always empty because the pty merges the streams.
func (r *PTYRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if _, err := exec.LookPath(spec.Command); err != nil {
		return Result{}, &CommandNotFoundError{Command: spec.Command, Hint: spec.NotFoundHint}
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: r.rows, Cols: r.cols})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, &CommandNotFoundError{Command: spec.Command, Hint: spec.NotFoundHint}
		}
		return Result{}, &SpawnError{Command: spec.Command, Err: err}
	}

	var out lockedBuffer
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		// Reading the pty master returns EIO on Linux once the child
		// exits; that is the EOF condition here.
		_, _ = io.Copy(&out, ptmx)
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	timedOut := false
	var waitErr error
	select {
	case <-done:
	case <-timeoutCh:
		r.log.Warn("interactive_timeout",
			slog.String("command", spec.Command),
			slog.Duration("timeout", spec.Timeout))
		terminate(cmd, done)
		timedOut = true
	case <-ctx.Done():
		terminate(cmd, done)
		waitErr = ctx.Err()
	}

	_ = ptmx.Close()
	<-copyDone

	return Result{
		ExitCode: exitCode(cmd, timedOut),
		Stdout:   out.String(),
		TimedOut: timedOut,
	}, waitErr
}

// lockedBuffer guards the output buffer against the copy goroutine still
// writing while the caller reads the result.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
