package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Create("user1", "My Project", "/tmp/proj")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "user1", rec.UserID)
	assert.Equal(t, "My Project", rec.Title)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "My Project", got.Title)
}

func TestCreateDefaultTitle(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create("user1", "  ", "")
	require.NoError(t, err)
	assert.Equal(t, "session-"+rec.ID[:8], rec.Title)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirstAndUserFilter(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create("user1", "first", "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	b, err := s.Create("user1", "second", "")
	require.NoError(t, err)
	_, err = s.Create("user2", "other", "")
	require.NoError(t, err)

	recs, err := s.List("user1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, b.ID, recs[0].ID)
	assert.Equal(t, a.ID, recs[1].ID)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListSkipsCorruptRecords(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("user1", "good", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(s.SessionsDir(), "broken.json"), []byte("{not json"), 0600))

	recs, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSetThreadID(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create("user1", "t", "")
	require.NoError(t, err)

	require.NoError(t, s.SetThreadID(rec.ID, "thread-1"))
	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ThreadID)

	// An empty value never clears a known thread id.
	require.NoError(t, s.SetThreadID(rec.ID, ""))
	got, err = s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ThreadID)
}

func TestGetThreadID(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create("user1", "t", "")
	require.NoError(t, err)

	got, err := s.GetThreadID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	require.NoError(t, s.SetThreadID(rec.ID, "thread-1"))
	got, err = s.GetThreadID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got)

	_, err = s.GetThreadID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetThreadIDMissingSession(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.SetThreadID("missing", "thread-1"), ErrNotFound)
}

func TestFindByChannel(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create("user1", "t", "")
	require.NoError(t, err)
	require.NoError(t, s.SetChannelID(rec.ID, "chan-42"))

	got, err := s.FindByChannel("chan-42")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = s.FindByChannel("chan-other")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByChannel("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFocusLifecycle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Focused("user1")
	assert.ErrorIs(t, err, ErrNoFocus)

	rec, err := s.Create("user1", "t", "")
	require.NoError(t, err)
	require.NoError(t, s.Focus("user1", rec.ID))

	got, err := s.Focused("user1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	// Focusing a nonexistent session is refused.
	assert.ErrorIs(t, s.Focus("user1", "missing"), ErrNotFound)
}

func TestDeleteClearsFocus(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create("user1", "t", "")
	require.NoError(t, err)
	require.NoError(t, s.Focus("user1", rec.ID))

	require.NoError(t, s.Delete(rec.ID))

	_, err = s.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Focused("user1")
	assert.ErrorIs(t, err, ErrNoFocus)

	assert.ErrorIs(t, s.Delete(rec.ID), ErrNotFound)
}

func TestSetTitle(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Create("user1", "old", "")
	require.NoError(t, err)

	require.NoError(t, s.SetTitle(rec.ID, "new name"))
	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "new name", got.Title)

	assert.Error(t, s.SetTitle(rec.ID, "  "))
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir)
	require.NoError(t, err)
	rec, err := s1.Create("user1", "persisted", "")
	require.NoError(t, err)

	s2, err := NewStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x"), ExpandTilde("~/x"))
	assert.Equal(t, home, ExpandTilde("~"))
	assert.Equal(t, "/abs/path", ExpandTilde("/abs/path"))
	// Traversal out of home is left unexpanded.
	assert.Equal(t, "~/../../etc/passwd", ExpandTilde("~/../../etc/passwd"))
}
