package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRingOnly(t *testing.T) {
	Init(Config{Level: "debug"})
	defer Shutdown()

	Logger().Info("ring only message", "k", "v")

	path := filepath.Join(t.TempDir(), "ring.log")
	require.NoError(t, DumpRingBuffer(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ring only message")
}

func TestInitWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info"})
	defer Shutdown()

	Logger().Info("file message")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "file message")
}

func TestForComponentTagsRecords(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info"})
	defer Shutdown()

	ForComponent(CompBridge).Info("component message")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		if entry["msg"] == "component message" {
			assert.Equal(t, CompBridge, entry["component"])
			found = true
		}
	}
	assert.True(t, found, "component message not written")
}

func TestForComponentBeforeInit(t *testing.T) {
	Shutdown()
	log := ForComponent(CompRunner)
	// Must not panic before Init; output goes nowhere.
	log.Info("early message")

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info"})
	defer Shutdown()

	// The same logger instance emits once Init has run.
	log.Info("late message")
	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "late message")
	assert.NotContains(t, string(data), "early message")
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	Logger().Info("too quiet")
	Logger().Warn("loud enough")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "too quiet")
	assert.Contains(t, string(data), "loud enough")
}

func TestTextFormat(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info", Format: "text"})
	defer Shutdown()

	Logger().Info("text message", "key", "value")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=\"text message\"")
	assert.Contains(t, string(data), "key=value")
}
