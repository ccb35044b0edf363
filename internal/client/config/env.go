package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/declaro/internal/flagx"
)

// EnvPrefix namespaces every environment variable read by the client.
const EnvPrefix = "DECLARO_"

// parseEnv loads the dotenv file named by -e/-env-file (or ./.env when it
// exists) without overriding the real environment, then overlays DECLARO_*
// variables.
func parseEnv(cfg *Config, args []string) error {
	if path := flagx.EnvFileFlag(args); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	getEnv(&cfg.APIBaseURL, "API_BASE_URL")
	getEnv(&cfg.DataDir, "DATA_DIR")
	getEnv(&cfg.DBPath, "DB_PATH")
	getEnv(&cfg.LogLevel, "LOG_LEVEL")
	getEnv(&cfg.LogFormat, "LOG_FORMAT")
	if err := getEnvDuration(&cfg.OnlineCheckInterval, "ONLINE_CHECK_INTERVAL"); err != nil {
		return err
	}
	if err := getEnvDuration(&cfg.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MAX_LOGS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_LOGS: %w", EnvPrefix, err)
		}
		cfg.MaxLogs = n
	}
	return nil
}

func getEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
		*dst = v
	}
}

// getEnvDuration accepts Go durations ("5s") or whole seconds ("5").
func getEnvDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}
