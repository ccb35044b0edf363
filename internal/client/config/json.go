package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/declaro/internal/flagx"
	"github.com/dmitrijs2005/declaro/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals use
// timex.Duration so they may be strings like "3s" or integer nanoseconds.
// Absent fields keep the earlier value.
type JsonConfig struct {
	APIBaseURL          *string         `json:"api_base_url"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	DataDir             *string         `json:"data_dir"`
	DBPath              *string         `json:"db_path"`
	LogLevel            *string         `json:"log_level"`
	LogFormat           *string         `json:"log_format"`
	MaxLogs             *int            `json:"max_logs"`
}

// parseJson overlays cfg with the JSON file named by -c or -config. Without
// the flag nothing is loaded.
func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.APIBaseURL, jc.APIBaseURL)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.DBPath, jc.DBPath)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.MaxLogs != nil {
		cfg.MaxLogs = *jc.MaxLogs
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
