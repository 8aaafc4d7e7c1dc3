package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "VIBECORD_DISCORD_TOKEN", cfg.Discord.TokenEnv)
	assert.Equal(t, "codex", cfg.Codex.Binary)
	assert.Equal(t, 1.0, cfg.Discord.SendsPerSecond)
	assert.Equal(t, "info", cfg.Logs.Level)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[discord]
token_env = "MY_TOKEN"
guild_id = "g1"
category_id = "c1"
include_rate_limits = true
sends_per_second = 2.5

[codex]
binary = "/usr/local/bin/codex"
extra_args = ["--model", "gpt-5-codex"]
status_timeout_secs = 15

[logs]
level = "debug"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "MY_TOKEN", cfg.Discord.TokenEnv)
	assert.Equal(t, "g1", cfg.Discord.GuildID)
	assert.Equal(t, "c1", cfg.Discord.CategoryID)
	assert.True(t, cfg.Discord.IncludeRateLimits)
	assert.Equal(t, 2.5, cfg.Discord.SendsPerSecond)
	assert.Equal(t, "/usr/local/bin/codex", cfg.Codex.Binary)
	assert.Equal(t, []string{"--model", "gpt-5-codex"}, cfg.Codex.ExtraArgs)
	assert.Equal(t, 15, cfg.Codex.StatusTimeoutSecs)
	assert.Equal(t, "debug", cfg.Logs.Level)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[discord]
guild_id = "g1"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "g1", cfg.Discord.GuildID)
	assert.Equal(t, "VIBECORD_DISCORD_TOKEN", cfg.Discord.TokenEnv)
	assert.Equal(t, "codex", cfg.Codex.Binary)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	cfg := Default()
	cfg.Discord.TokenEnv = "VIBECORD_TEST_TOKEN"
	t.Setenv("VIBECORD_TEST_TOKEN", "  secret \n")
	assert.Equal(t, "secret", cfg.Token())

	t.Setenv("VIBECORD_TEST_TOKEN", "")
	assert.Equal(t, "", cfg.Token())
}

func TestWriteSkeleton(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	require.NoError(t, WriteSkeleton(path))

	// A written skeleton must round-trip through Load.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "VIBECORD_DISCORD_TOKEN", cfg.Discord.TokenEnv)
	assert.True(t, cfg.Discord.IncludeRateLimits)

	// Refuses to clobber an existing config.
	assert.Error(t, WriteSkeleton(path))
}
