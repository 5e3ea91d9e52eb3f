package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "@every 1m", cfg.Scanner.Schedule)
	assert.Equal(t, time.Minute, cfg.Scanner.Lookahead())
	assert.Equal(t, 600, cfg.Dispatcher.WindowSec)
	assert.Equal(t, 100, cfg.Inbox.MaxEntries)
	assert.Equal(t, 7, cfg.Inbox.RetentionDays)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("REMINDERS_SCANNER_LOOKAHEAD_SEC", "15")
	t.Setenv("REMINDERS_INBOX_BACKEND", "redis")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Scanner.Lookahead())
	assert.Equal(t, "redis", cfg.Inbox.Backend)
}

func TestLoadConfig_ClampsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "scanner:\n  lookahead_sec: -5\ndispatcher:\n  window_sec: 0\ninbox:\n  max_entries: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Scanner.Lookahead())
	assert.Equal(t, 600, cfg.Dispatcher.WindowSec)
	assert.Equal(t, 100, cfg.Inbox.MaxEntries)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.TLS = true
	cfg.Scanner.Schedule = "@every 30s"
	cfg.Inbox.Backend = "memory"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scanner: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
