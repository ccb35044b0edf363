package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the declaro client.
//
// Fields:
//   - APIBaseURL: base URL of the portal REST API.
//   - OnlineCheckInterval: how often the client probes API reachability.
//   - RequestTimeout: per-request deadline of the API client.
//   - DataDir: directory for local state (cache database, OTP drops, backups).
//   - DBPath: SQLite cache file; defaults to DataDir/declaro.db.
//   - LogLevel, LogFormat: log level and backend ("text" or "json" for slog, "zap").
//   - MaxLogs: retained activity log entries.
type Config struct {
	APIBaseURL          string
	OnlineCheckInterval time.Duration
	RequestTimeout      time.Duration
	DataDir             string
	DBPath              string
	LogLevel            string
	LogFormat           string
	MaxLogs             int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8000"
	c.OnlineCheckInterval = 3 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.DataDir = defaultDataDir()
	c.DBPath = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.MaxLogs = 1000
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "declaro")
	}
	return ".declaro"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "declaro.db")
	}
	return cfg, nil
}
