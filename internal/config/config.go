// Package config loads vibecord's TOML configuration from
// ~/.vibecord/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the config file name under the vibecord home directory.
const FileName = "config.toml"

// Config is the user-facing configuration.
type Config struct {
	Discord DiscordConfig `toml:"discord"`
	Codex   CodexConfig   `toml:"codex"`
	Store   StoreConfig   `toml:"store"`
	Logs    LogConfig     `toml:"logs"`
}

// DiscordConfig holds messaging-platform settings.
type DiscordConfig struct {
	// TokenEnv is the environment variable holding the bot token.
	TokenEnv string `toml:"token_env"`

	// GuildID scopes slash-command registration to one guild. Empty
	// registers globally.
	GuildID string `toml:"guild_id"`

	// CategoryID is the channel category new session channels are
	// provisioned under.
	CategoryID string `toml:"category_id"`

	// IncludeRateLimits requests structured codex output on every relay
	// so replies carry a usage footer.
	IncludeRateLimits bool `toml:"include_rate_limits"`

	// SendsPerSecond throttles outbound messages (default 1).
	SendsPerSecond float64 `toml:"sends_per_second"`
}

// CodexConfig holds external-assistant settings.
type CodexConfig struct {
	// Binary is the codex executable name or path.
	Binary string `toml:"binary"`

	// ExtraArgs are appended to every batch invocation.
	ExtraArgs []string `toml:"extra_args"`

	// SessionLogDir overrides the codex session-log root
	// (default ~/.codex/sessions).
	SessionLogDir string `toml:"session_log_dir"`

	// Interactive timeouts in seconds, selected by prompt.
	StatusTimeoutSecs  int `toml:"status_timeout_secs"`
	CompactTimeoutSecs int `toml:"compact_timeout_secs"`
	DefaultTimeoutSecs int `toml:"default_timeout_secs"`
}

// StoreConfig holds session-store settings.
type StoreConfig struct {
	// Dir is the vibecord home directory (default ~/.vibecord).
	Dir string `toml:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Dir        string `toml:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Home returns the vibecord home directory.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vibecord"
	}
	return filepath.Join(home, ".vibecord")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Home(), FileName)
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Discord: DiscordConfig{
			TokenEnv:       "VIBECORD_DISCORD_TOKEN",
			SendsPerSecond: 1,
		},
		Codex: CodexConfig{
			Binary: "codex",
		},
		Store: StoreConfig{
			Dir: Home(),
		},
		Logs: LogConfig{
			Level: "info",
			Dir:   Home(),
		},
	}
}

// Load reads the config at path, applying defaults for missing keys. A
// missing file yields the defaults, not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	def := Default()
	if c.Discord.TokenEnv == "" {
		c.Discord.TokenEnv = def.Discord.TokenEnv
	}
	if c.Discord.SendsPerSecond <= 0 {
		c.Discord.SendsPerSecond = def.Discord.SendsPerSecond
	}
	if c.Codex.Binary == "" {
		c.Codex.Binary = def.Codex.Binary
	}
	if c.Store.Dir == "" {
		c.Store.Dir = def.Store.Dir
	}
	if c.Logs.Level == "" {
		c.Logs.Level = def.Logs.Level
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = def.Logs.Dir
	}
	c.Store.Dir = expandTilde(c.Store.Dir)
	c.Logs.Dir = expandTilde(c.Logs.Dir)
	c.Codex.SessionLogDir = expandTilde(c.Codex.SessionLogDir)
}

// Token resolves the bot token from the configured environment variable.
func (c *Config) Token() string {
	return strings.TrimSpace(os.Getenv(c.Discord.TokenEnv))
}

// WriteSkeleton writes a commented starter config to path, refusing to
// overwrite an existing file.
func WriteSkeleton(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	path = expandTilde(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(skeleton), 0600)
}

const skeleton = `# vibecord configuration

[discord]
# Environment variable holding the bot token.
token_env = "VIBECORD_DISCORD_TOKEN"
# Guild to register slash commands in (empty = global, slow to propagate).
guild_id = ""
# Category to create per-session channels under.
category_id = ""
# Attach rate-limit/context usage footers to replies.
include_rate_limits = true

[codex]
binary = "codex"
# extra_args = ["--model", "gpt-5-codex"]

[logs]
level = "info"
`

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}
