package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"terminal-log-sync/internal/notify"
)

// MonitorConfig describes the external monitoring endpoint that receives
// converted access logs.
type MonitorConfig struct {
	URL string `mapstructure:"url"`
	// Request timeout in seconds
	Timeout uint `mapstructure:"timeout"`
	// Maximum delivery attempts per batch before giving up
	MaxAttempts uint `mapstructure:"max_attempts"`
	// Initial delay between attempts in seconds; doubles on each retry
	Backoff uint `mapstructure:"backoff"`
}

// SyncConfig tunes the per-device synchronization workers.
type SyncConfig struct {
	// Seconds between periodic sync runs
	Interval uint `mapstructure:"interval"`
	// Whole-run retries within one cycle
	RunRetries uint `mapstructure:"run_retries"`
	// Fixed delay between run retries in seconds
	RetryDelay uint `mapstructure:"retry_delay"`
	// Upper bound for a single run in seconds
	RunTimeout uint `mapstructure:"run_timeout"`
	// Login attempts before an auth failure is surfaced
	LoginAttempts uint `mapstructure:"login_attempts"`
	// Start monitoring all registered devices at server boot
	Autostart bool `mapstructure:"autostart"`
}

// TerminalConfig tunes the access-terminal HTTP client.
type TerminalConfig struct {
	// Per-request timeout in seconds
	Timeout uint `mapstructure:"timeout"`
}

type AlertConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	To      []string `mapstructure:"to"`
	// Minimum seconds between repeated alerts for the same subject
	Interval uint `mapstructure:"interval"`
}

type Config struct {
	// Secret key for signing operator API tokens. Must be set in production.
	Secret string `mapstructure:"secret"`
	// TTL for operator API tokens in minutes
	TokenTTL uint   `mapstructure:"token_ttl"`
	LogLevel string `mapstructure:"log_level"`

	// Comma separated list of allowed CIDR networks. Empty means allow all.
	AllowedNetworks string `mapstructure:"allowed_networks"`

	// Base URL for the dashboard. Used for the wall-mount QR asset.
	BaseURL string `mapstructure:"base_url"`

	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Alerts   AlertConfig    `mapstructure:"alerts"`

	Storage Storage `mapstructure:"storage"`

	Email notify.SMTPConfig `mapstructure:"email"`
}

var Cfg *Config

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// LoadConfig reads configuration from environment variables and an optional
// config file and returns a Config struct.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvPrefix("")

	if len(configFile) > 0 {
		for _, path := range configFile {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, everything can come from env vars.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("unable to read config file: %v", err)
		}
	}

	// Load configuration from environment variables
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	if cfg.Sync.Interval == 0 {
		slog.Warn("SYNC.INTERVAL must be positive, using default", "default", 60)
		cfg.Sync.Interval = 60
	}

	// Convert relative sqlite path to the instance folder
	if cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path == ":memory:" {
			// In-memory database, do nothing
		} else if !os.IsPathSeparator(cfg.Storage.SQLite.Path[0]) {
			cfg.Storage.SQLite.Path = fmt.Sprintf("%s/%s", getConfigPath(), cfg.Storage.SQLite.Path)
		}
	}

	// Warn if secret is missing - control surface auth is disabled without it
	if cfg.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("SECRET configuration variable is required in production")
		} else {
			slog.Warn("Secret is not set, API token auth is disabled. Do not use in production.")
		}
	}

	if cfg.Alerts.Enabled && len(cfg.Alerts.To) == 0 {
		slog.Warn("Alerts enabled but no recipients configured, disabling", "setting", "alerts.to")
		cfg.Alerts.Enabled = false
	}

	Cfg = &cfg
	return &cfg, nil
}
