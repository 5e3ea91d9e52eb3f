package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// SMTPConfig holds the outbound mail settings. The password is looked up
// in the keyring under PasswordKey.
type SMTPConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port"`
	Username    string `mapstructure:"username" yaml:"username"`
	From        string `mapstructure:"from" yaml:"from"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	PasswordKey string `mapstructure:"password_key" yaml:"password_key"`
}

// ScannerConfig controls the reminder scan.
type ScannerConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m".
	Schedule     string `mapstructure:"schedule" yaml:"schedule"`
	LookaheadSec int    `mapstructure:"lookahead_sec" yaml:"lookahead_sec"`
}

// Lookahead returns the forward buffer applied to the due cutoff.
func (c ScannerConfig) Lookahead() time.Duration {
	return time.Duration(c.LookaheadSec) * time.Second
}

// DispatcherConfig controls the send-dedup cache.
type DispatcherConfig struct {
	WindowSec int `mapstructure:"window_sec" yaml:"window_sec"`
	SweepSec  int `mapstructure:"sweep_sec" yaml:"sweep_sec"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// InboxConfig controls the client-side notification stores.
type InboxConfig struct {
	// Backend is "sqlite", "redis", or "memory".
	Backend         string `mapstructure:"backend" yaml:"backend"`
	SQLitePath      string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr       string `mapstructure:"redis_addr" yaml:"redis_addr"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	RetentionDays   int    `mapstructure:"retention_days" yaml:"retention_days"`
	MaxEntries      int    `mapstructure:"max_entries" yaml:"max_entries"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	SMTP       SMTPConfig       `mapstructure:"smtp" yaml:"smtp"`
	Scanner    ScannerConfig    `mapstructure:"scanner" yaml:"scanner"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Inbox      InboxConfig      `mapstructure:"inbox" yaml:"inbox"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/reminders/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "reminders", "config.yaml")
}

var configDefaults = map[string]any{
	"database.driver":         "sqlite",
	"database.dsn":            "reminders.db",
	"smtp.host":               "",
	"smtp.port":               "587",
	"smtp.username":           "",
	"smtp.from":               "",
	"smtp.tls":                false,
	"smtp.password_key":       "smtp-password",
	"scanner.schedule":        "@every 1m",
	"scanner.lookahead_sec":   60,
	"dispatcher.window_sec":   600,
	"dispatcher.sweep_sec":    60,
	"http.addr":               ":8080",
	"inbox.backend":           "sqlite",
	"inbox.sqlite_path":       "inbox.db",
	"inbox.redis_addr":        "localhost:6379",
	"inbox.poll_interval_sec": 30,
	"inbox.retention_days":    7,
	"inbox.max_entries":       100,
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database:   DatabaseConfig{Driver: "sqlite", DSN: "reminders.db"},
		SMTP:       SMTPConfig{Port: "587", PasswordKey: "smtp-password"},
		Scanner:    ScannerConfig{Schedule: "@every 1m", LookaheadSec: 60},
		Dispatcher: DispatcherConfig{WindowSec: 600, SweepSec: 60},
		HTTP:       HTTPConfig{Addr: ":8080"},
		Inbox: InboxConfig{
			Backend:         "sqlite",
			SQLitePath:      "inbox.db",
			RedisAddr:       "localhost:6379",
			PollIntervalSec: 30,
			RetentionDays:   7,
			MaxEntries:      100,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first if present, and
// REMINDERS_* environment variables override file values. If the file does
// not exist, defaults (plus environment overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REMINDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Scanner.LookaheadSec < 0 {
		cfg.Scanner.LookaheadSec = 0
	}
	if cfg.Dispatcher.WindowSec <= 0 {
		cfg.Dispatcher.WindowSec = 600
	}
	if cfg.Inbox.MaxEntries <= 0 {
		cfg.Inbox.MaxEntries = 100
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("smtp", cfg.SMTP)
	v.Set("scanner", cfg.Scanner)
	v.Set("dispatcher", cfg.Dispatcher)
	v.Set("http", cfg.HTTP)
	v.Set("inbox", cfg.Inbox)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
