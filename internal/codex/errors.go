package codex

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for bridge failures that carry no extra state.
var (
	// ErrEmptyPrompt indicates the prompt was empty or whitespace-only.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrMissingThreadID indicates no thread id could be determined from
	// process output or prior session state.
	ErrMissingThreadID = errors.New("no codex thread id found; try sending the message again")

	// ErrMissingReply indicates codex produced no extractable reply.
	ErrMissingReply = errors.New("no reply found in codex output; try sending the message again")
)

// CommandNotFoundError indicates the external executable is not on PATH.
// The hint is user-actionable and shown verbatim by callers.
type CommandNotFoundError struct {
	Command string
	Hint    string
}

func (e *CommandNotFoundError) Error() string {
	if e.Hint != "" {
		return e.Hint
	}
	return fmt.Sprintf("%s: command not found", e.Command)
}

// SpawnError wraps an unexpected OS-level failure to start a process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CommandFailedError indicates the external command exited nonzero.
// Detail carries the last non-empty diagnostic line from the process.
type CommandFailedError struct {
	Command  string
	ExitCode int
	Detail   string
}

func (e *CommandFailedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Detail)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// InteractiveTimeoutError indicates an interactive invocation exceeded its
// allotted window and was terminated.
type InteractiveTimeoutError struct {
	Elapsed time.Duration
}

func (e *InteractiveTimeoutError) Error() string {
	return fmt.Sprintf("codex interactive command timed out after %s", e.Elapsed)
}
