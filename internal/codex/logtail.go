package codex

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/p-sw/vibecord/internal/logging"
)

var tailerLog = logging.ForComponent(logging.CompTailer)

// logExt is the structured-log extension codex writes its session rollout
// files with.
const logExt = ".jsonl"

// LogSnapshot marks a position in the most-recently-modified codex session
// log at a point in time. It is held only for the duration of one
// interactive invocation.
type LogSnapshot struct {
	Path  string
	Lines int
}

// LogTail reads the delta of a structured log since a snapshot. Interactive
// mode depends on it because the pty wrapper does not expose codex's event
// stream directly.
type LogTail interface {
	Snapshot() LogSnapshot
	Delta(snap LogSnapshot) string
}

// SessionLogTail tails the newest .jsonl file under the codex session-log
// root. Codex nests logs in dated subdirectories, so the scan is recursive.
type SessionLogTail struct {
	root string
	log  *slog.Logger
}

// NewSessionLogTail returns a tailer over the given log root. An empty
// root defaults to ~/.codex/sessions.
func NewSessionLogTail(root string) *SessionLogTail {
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".codex", "sessions")
		}
	}
	return &SessionLogTail{root: root, log: tailerLog}
}

// Snapshot records the current tail position of the latest log file.
func (t *SessionLogTail) Snapshot() LogSnapshot {
	path := t.latestFile()
	if path == "" {
		return LogSnapshot{}
	}
	return LogSnapshot{Path: path, Lines: countLines(path)}
}

// Delta returns the log content appended since the snapshot. If the latest
// file is not the snapshot's file, the whole file counts as new. Unreadable
// files yield an empty delta.
func (t *SessionLogTail) Delta(snap LogSnapshot) string {
	path := t.latestFile()
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.log.Debug("log_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		return ""
	}
	content := string(data)
	if path != snap.Path {
		return content
	}
	lines := splitLines(content)
	if len(lines) <= snap.Lines {
		return ""
	}
	return strings.Join(lines[snap.Lines:], "\n")
}

// latestFile finds the most recently modified log file under the root.
// Ties break toward the last file found; files that vanish between listing
// and stat are skipped.
func (t *SessionLogTail) latestFile() string {
	var latest string
	var latestMod time.Time
	_ = filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), logExt) {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if latest == "" || !info.ModTime().Before(latestMod) {
			latest = path
			latestMod = info.ModTime()
		}
		return nil
	})
	return latest
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return len(splitLines(string(data)))
}

func splitLines(content string) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
