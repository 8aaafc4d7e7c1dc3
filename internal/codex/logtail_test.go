package codex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestSnapshotEmptyRoot(t *testing.T) {
	tail := NewSessionLogTail(t.TempDir())
	snap := tail.Snapshot()
	assert.Equal(t, LogSnapshot{}, snap)
	assert.Equal(t, "", tail.Delta(snap))
}

func TestSnapshotMissingRoot(t *testing.T) {
	tail := NewSessionLogTail(filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, LogSnapshot{}, tail.Snapshot())
}

func TestSnapshotPicksNewestFile(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeLog(t, filepath.Join(root, "2026", "08", "old.jsonl"), "a\nb\n", base)
	newest := filepath.Join(root, "2026", "08", "new.jsonl")
	writeLog(t, newest, "x\ny\nz\n", base.Add(time.Minute))

	snap := NewSessionLogTail(root).Snapshot()
	assert.Equal(t, newest, snap.Path)
	assert.Equal(t, 3, snap.Lines)
}

func TestSnapshotIgnoresOtherExtensions(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeLog(t, filepath.Join(root, "session.jsonl"), "a\n", base)
	writeLog(t, filepath.Join(root, "notes.txt"), "b\n", base.Add(time.Minute))

	snap := NewSessionLogTail(root).Snapshot()
	assert.Equal(t, filepath.Join(root, "session.jsonl"), snap.Path)
}

func TestDeltaSameFileAppends(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "session.jsonl")
	base := time.Now().Add(-time.Hour)
	writeLog(t, path, "one\ntwo\n", base)

	tail := NewSessionLogTail(root)
	snap := tail.Snapshot()

	writeLog(t, path, "one\ntwo\nthree\nfour\n", base.Add(time.Minute))
	assert.Equal(t, "three\nfour", tail.Delta(snap))
}

func TestDeltaNoNewLines(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "session.jsonl")
	writeLog(t, path, "one\ntwo\n", time.Now())

	tail := NewSessionLogTail(root)
	snap := tail.Snapshot()
	assert.Equal(t, "", tail.Delta(snap))
}

func TestDeltaNewFileIsWhollyNew(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeLog(t, filepath.Join(root, "first.jsonl"), "old content\n", base)

	tail := NewSessionLogTail(root)
	snap := tail.Snapshot()

	// A new session rollout appears: everything in it is delta.
	writeLog(t, filepath.Join(root, "second.jsonl"), "fresh\nlines\n", base.Add(time.Minute))
	assert.Equal(t, "fresh\nlines\n", tail.Delta(snap))
}

func TestDeltaEmptySnapshot(t *testing.T) {
	root := t.TempDir()
	tail := NewSessionLogTail(root)
	snap := tail.Snapshot()

	writeLog(t, filepath.Join(root, "session.jsonl"), "a\nb\n", time.Now())
	assert.Equal(t, "a\nb\n", tail.Delta(snap))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Nil(t, splitLines("\n\n"))
	assert.Equal(t, []string{"a"}, splitLines("a\n"))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
}
