// Package codex bridges logical chat sessions to the codex CLI. It owns the
// mapping from a session to its codex thread, serializes invocations per
// session, and extracts structured results from codex's mixed plain-text and
// JSONL output.
package codex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-sw/vibecord/internal/lock"
	"github.com/p-sw/vibecord/internal/logging"
)

var bridgeLog = logging.ForComponent(logging.CompBridge)

const codexInstallHint = "codex CLI not found. Install it with `npm install -g @openai/codex` and make sure it is on your PATH."

// Session is the slice of a stored session the bridge needs: its identity,
// its working-directory anchor, and the codex thread it maps to.
type Session struct {
	ID          string
	ProjectPath string
	ThreadID    string
}

// SendOptions control one SendMessage call.
type SendOptions struct {
	// IncludeRateLimits requests structured event output so rate-limit and
	// context-window snapshots can be extracted.
	IncludeRateLimits bool

	// InteractiveSession routes the prompt through codex's interactive
	// mode under a pty. Meta commands (/status, /compact, /init) only
	// produce their full output there.
	InteractiveSession bool
}

// TurnResult is the outcome of one successful exchange. It is handed to
// the caller and discarded, never persisted.
type TurnResult struct {
	ThreadID      string
	Reply         string
	RateLimits    *RateLimitSnapshot
	ContextWindow *ContextWindow
}

// ThreadStore persists the session-to-thread mapping. The bridge re-reads
// the thread id once inside the per-session lock, and writes it back only
// when the observed thread id differs from the stored one.
type ThreadStore interface {
	GetThreadID(sessionID string) (string, error)
	SetThreadID(sessionID, threadID string) error
}

// Timeouts are the interactive-mode deadlines, selected by prompt.
type Timeouts struct {
	Status  time.Duration
	Compact time.Duration
	Default time.Duration
}

// DefaultTimeouts returns the stock interactive deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Status:  30 * time.Second,
		Compact: 2 * time.Minute,
		Default: 5 * time.Minute,
	}
}

// Bridge is the façade in front of the codex CLI. All mutation of a
// session's thread id flows through here, under the per-session lock.
type Bridge struct {
	store     ThreadStore
	batch     Runner
	inter     Runner
	tail      LogTail
	locks     *lock.Keyed
	binary    string
	extraArgs []string
	timeouts  Timeouts
	log       *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBinary overrides the codex executable name or path.
func WithBinary(bin string) Option {
	return func(b *Bridge) {
		if bin != "" {
			b.binary = bin
		}
	}
}

// WithExtraArgs appends extra arguments to every batch invocation.
func WithExtraArgs(args []string) Option {
	return func(b *Bridge) { b.extraArgs = args }
}

// WithBatchRunner replaces the batch-mode runner.
func WithBatchRunner(r Runner) Option {
	return func(b *Bridge) { b.batch = r }
}

// WithInteractiveRunner replaces the interactive-mode runner.
func WithInteractiveRunner(r Runner) Option {
	return func(b *Bridge) { b.inter = r }
}

// WithLogTail replaces the session log tailer.
func WithLogTail(t LogTail) Option {
	return func(b *Bridge) { b.tail = t }
}

// WithTimeouts overrides the interactive deadlines. Zero fields keep their
// defaults.
func WithTimeouts(t Timeouts) Option {
	return func(b *Bridge) {
		if t.Status > 0 {
			b.timeouts.Status = t.Status
		}
		if t.Compact > 0 {
			b.timeouts.Compact = t.Compact
		}
		if t.Default > 0 {
			b.timeouts.Default = t.Default
		}
	}
}

// New returns a Bridge backed by the real codex CLI, a pty runner for
// interactive mode, and the codex session-log tailer.
func New(store ThreadStore, opts ...Option) *Bridge {
	b := &Bridge{
		store:    store,
		batch:    NewExecRunner(),
		inter:    NewPTYRunner(),
		tail:     NewSessionLogTail(""),
		locks:    lock.NewKeyed(),
		binary:   "codex",
		timeouts: DefaultTimeouts(),
		log:      bridgeLog,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendMessage relays one prompt to the session's codex thread and returns
// the typed result. At most one invocation runs per session at a time;
// concurrent callers queue in arrival order.
func (b *Bridge) SendMessage(ctx context.Context, sess Session, prompt string, opts SendOptions) (*TurnResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	var result *TurnResult
	err := b.locks.Do(ctx, sess.ID, func(ctx context.Context) error {
		// The caller's session is a snapshot taken before the lock was
		// acquired; an earlier queued turn may have started a thread
		// since. Re-resolve here so this turn resumes it instead of
		// forking a new one.
		if current, lookupErr := b.store.GetThreadID(sess.ID); lookupErr != nil {
			b.log.Warn("thread_id_lookup_failed",
				slog.String("session_id", sess.ID),
				slog.String("error", lookupErr.Error()))
		} else if current != "" {
			sess.ThreadID = current
		}

		var err error
		if opts.InteractiveSession {
			result, err = b.sendInteractive(ctx, sess, prompt)
		} else {
			result, err = b.sendBatch(ctx, sess, prompt, opts.IncludeRateLimits)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sendBatch runs a one-shot `codex exec` invocation with no timeout.
func (b *Bridge) sendBatch(ctx context.Context, sess Session, prompt string, includeRateLimits bool) (*TurnResult, error) {
	workdir := resolveWorkdir(sess.ProjectPath)
	outFile := filepath.Join(os.TempDir(), "vibecord-reply-"+uuid.NewString()+".txt")
	defer removeQuiet(outFile)

	args := []string{"exec"}
	if includeRateLimits {
		args = append(args, "--json")
	}
	args = append(args, "--output-last-message", outFile)
	args = append(args, b.extraArgs...)
	if sess.ThreadID != "" {
		args = append(args, "resume", sess.ThreadID)
	}
	args = append(args, prompt)

	b.log.Info("batch_invoke",
		slog.String("session_id", sess.ID),
		slog.Bool("resume", sess.ThreadID != ""),
		slog.Bool("json", includeRateLimits),
		slog.String("workdir", workdir))

	res, err := b.batch.Run(ctx, Spec{
		Command:      b.binary,
		Args:         args,
		Dir:          workdir,
		NotFoundHint: codexInstallHint,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &CommandFailedError{
			Command:  b.binary,
			ExitCode: res.ExitCode,
			Detail:   lastNonEmptyLine(res.Stderr, res.Stdout),
		}
	}

	combined := res.Combined()
	threadID := ParseThreadID(combined)
	if threadID == "" {
		threadID = sess.ThreadID
	}
	if threadID == "" {
		return nil, ErrMissingThreadID
	}

	reply := readReplyFile(outFile)
	if reply == "" {
		reply = ParseReply(combined)
	}
	if reply == "" {
		return nil, ErrMissingReply
	}

	if err := b.persistThreadID(sess, threadID); err != nil {
		return nil, err
	}
	return &TurnResult{
		ThreadID:      threadID,
		Reply:         reply,
		RateLimits:    ParseRateLimits(combined),
		ContextWindow: ParseContextWindow(combined),
	}, nil
}

// sendInteractive runs the prompt through codex's interactive mode inside
// a pty, reading results from the session log delta because the pty gives
// no structured output channel.
func (b *Bridge) sendInteractive(ctx context.Context, sess Session, prompt string) (*TurnResult, error) {
	workdir := resolveWorkdir(sess.ProjectPath)
	snap := b.tail.Snapshot()

	var args []string
	if sess.ThreadID != "" {
		args = []string{"resume", sess.ThreadID, prompt}
	} else {
		args = []string{prompt}
	}
	timeout := b.timeoutFor(prompt)

	b.log.Info("interactive_invoke",
		slog.String("session_id", sess.ID),
		slog.Bool("resume", sess.ThreadID != ""),
		slog.Duration("timeout", timeout),
		slog.String("workdir", workdir))

	res, err := b.inter.Run(ctx, Spec{
		Command:      b.binary,
		Args:         args,
		Dir:          workdir,
		NotFoundHint: codexInstallHint,
		Timeout:      timeout,
	})
	if err != nil {
		return nil, err
	}

	delta := b.tail.Delta(snap)
	combined := res.Combined()

	threadID := ParseThreadID(delta)
	if threadID == "" {
		threadID = ParseThreadID(combined)
	}
	if threadID == "" {
		threadID = sess.ThreadID
	}

	reply := ParseStructuredReply(delta)
	if reply == "" {
		reply = ParseStructuredReply(combined)
	}
	if reply == "" {
		reply = ParseReply(combined)
	}

	if reply == "" {
		if res.TimedOut {
			return nil, &InteractiveTimeoutError{Elapsed: timeout}
		}
		if res.ExitCode != 0 {
			return nil, &CommandFailedError{
				Command:  b.binary,
				ExitCode: res.ExitCode,
				Detail:   lastNonEmptyLine(res.Stderr, res.Stdout),
			}
		}
		return nil, ErrMissingReply
	}

	// A reply alone does not mask a hard failure.
	if !res.TimedOut && res.ExitCode != 0 {
		return nil, &CommandFailedError{
			Command:  b.binary,
			ExitCode: res.ExitCode,
			Detail:   lastNonEmptyLine(res.Stderr, res.Stdout),
		}
	}

	if threadID == "" {
		return nil, ErrMissingThreadID
	}
	if err := b.persistThreadID(sess, threadID); err != nil {
		return nil, err
	}
	return &TurnResult{
		ThreadID:      threadID,
		Reply:         reply,
		RateLimits:    ParseRateLimits(delta),
		ContextWindow: ParseContextWindow(delta),
	}, nil
}

// timeoutFor picks the interactive deadline by prompt: short for status,
// medium for compact/init, long otherwise.
func (b *Bridge) timeoutFor(prompt string) time.Duration {
	switch strings.TrimSpace(prompt) {
	case "/status":
		return b.timeouts.Status
	case "/compact", "/init":
		return b.timeouts.Compact
	default:
		return b.timeouts.Default
	}
}

// persistThreadID writes the thread id through the store when it changed.
// A known thread id is only ever replaced by a different non-empty value.
func (b *Bridge) persistThreadID(sess Session, threadID string) error {
	if threadID == "" || threadID == sess.ThreadID {
		return nil
	}
	if err := b.store.SetThreadID(sess.ID, threadID); err != nil {
		return fmt.Errorf("persist thread id for session %s: %w", sess.ID, err)
	}
	b.log.Info("thread_id_updated",
		slog.String("session_id", sess.ID),
		slog.String("thread_id", threadID))
	return nil
}

// resolveWorkdir anchors the process working directory on the session's
// project path, degrading to the path's parent for files and to the
// current directory when the path does not exist.
func resolveWorkdir(projectPath string) string {
	if info, err := os.Stat(projectPath); err == nil {
		if info.IsDir() {
			return projectPath
		}
		return filepath.Dir(projectPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func readReplyFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func lastNonEmptyLine(primary, fallback string) string {
	for _, text := range []string{primary, fallback} {
		lines := strings.Split(text, "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
	}
	return ""
}

// removeQuiet deletes the temp output file; cleanup failure never reaches
// the caller.
func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		bridgeLog.Debug("temp_cleanup_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}
