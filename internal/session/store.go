// Package session persists vibecord's routing state: one JSON file per
// session plus a per-user focus pointer, all under a single store
// directory.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-sw/vibecord/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// ErrNotFound indicates the session does not exist in the store.
var ErrNotFound = errors.New("session not found")

// ErrNoFocus indicates the user has no focused session.
var ErrNoFocus = errors.New("no focused session")

// Record is one stored session.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	ProjectPath string    `json:"project_path"`
	ThreadID    string    `json:"thread_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type focusData struct {
	SessionID string `json:"session_id"`
}

// Store is the on-disk session directory. Safe for concurrent use within
// one process; writes are atomic (temp file + rename) so external readers
// never observe partial records.
type Store struct {
	dir string
	mu  sync.Mutex
	log *slog.Logger
}

// NewStore opens (creating if needed) a store rooted at dir. An empty dir
// defaults to ~/.vibecord.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".vibecord")
	}
	dir = ExpandTilde(dir)
	for _, sub := range []string{"sessions", "focus"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &Store{dir: dir, log: storeLog}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// SessionsDir returns the directory holding session records, for watchers.
func (s *Store) SessionsDir() string { return filepath.Join(s.dir, "sessions") }

// Create adds a new session for the user and returns it.
func (s *Store) Create(userID, title, projectPath string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       strings.TrimSpace(title),
		ProjectPath: ExpandTilde(strings.TrimSpace(projectPath)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec.Title == "" {
		rec.Title = "session-" + rec.ID[:8]
	}
	if err := s.writeRecord(rec); err != nil {
		return nil, err
	}
	s.log.Info("session_created",
		slog.String("session_id", rec.ID),
		slog.String("user_id", userID))
	return rec, nil
}

// Get returns the session by id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRecord(id)
}

// List returns sessions sorted by creation time, newest first. An empty
// userID lists all sessions.
func (s *Store) List(userID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.readRecord(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.log.Warn("session_read_failed",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// FindByChannel returns the session bound to a channel, or ErrNotFound.
func (s *Store) FindByChannel(channelID string) (*Record, error) {
	if channelID == "" {
		return nil, ErrNotFound
	}
	records, err := s.List("")
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ChannelID == channelID {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// GetThreadID returns the codex thread currently recorded for the session,
// or "" when no turn has completed yet.
func (s *Store) GetThreadID(id string) (string, error) {
	rec, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return rec.ThreadID, nil
}

// SetThreadID records the codex thread a session maps to. Writing the
// already-recorded value is a no-op; an empty value never overwrites a
// known id.
func (s *Store) SetThreadID(id, threadID string) error {
	if threadID == "" {
		return nil
	}
	return s.update(id, func(rec *Record) {
		rec.ThreadID = threadID
	})
}

// SetChannelID binds the session to a chat channel.
func (s *Store) SetChannelID(id, channelID string) error {
	return s.update(id, func(rec *Record) {
		rec.ChannelID = channelID
	})
}

// SetTitle renames the session.
func (s *Store) SetTitle(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title is empty")
	}
	return s.update(id, func(rec *Record) {
		rec.Title = title
	})
}

// Delete removes the session and any focus pointers referring to it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	// Drop stale focus pointers so Focused never resolves to a ghost.
	entries, err := os.ReadDir(filepath.Join(s.dir, "focus"))
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		focusPath := filepath.Join(s.dir, "focus", entry.Name())
		data, err := os.ReadFile(focusPath)
		if err != nil {
			continue
		}
		var f focusData
		if json.Unmarshal(data, &f) == nil && f.SessionID == id {
			_ = os.Remove(focusPath)
		}
	}
	s.log.Info("session_deleted", slog.String("session_id", id))
	return nil
}

// Focus points the user's focus at a session.
func (s *Store) Focus(userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readRecord(sessionID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(focusData{SessionID: sessionID}, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.dir, "focus", userID+".json"), data)
}

// Focused returns the user's focused session, or ErrNoFocus.
func (s *Store) Focused(userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, "focus", userID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoFocus
		}
		return nil, err
	}
	var f focusData
	if err := json.Unmarshal(data, &f); err != nil || f.SessionID == "" {
		return nil, ErrNoFocus
	}
	rec, err := s.readRecord(f.SessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoFocus
	}
	return rec, err
}

func (s *Store) update(id string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(id)
	if err != nil {
		return err
	}
	mutate(rec)
	rec.UpdatedAt = time.Now().UTC()
	return s.writeRecord(rec)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.SessionsDir(), id+".json")
}

func (s *Store) readRecord(id string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.recordPath(rec.ID), data)
}

// atomicWrite writes via a temp file and rename so readers in other
// processes never see a partial file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ExpandTilde expands a leading ~ to the user's home directory, rejecting
// paths that escape it.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			cleaned := filepath.Clean(filepath.Join(home, path[2:]))
			if strings.HasPrefix(cleaned, home) {
				return cleaned
			}
			storeLog.Warn("path_traversal_detected", slog.String("path", path))
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}
