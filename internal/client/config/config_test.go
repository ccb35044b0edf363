package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8000", c.APIBaseURL)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 10*time.Second, c.RequestTimeout)
	assert.Equal(t, 1000, c.MaxLogs)
	assert.NotEmpty(t, c.DataDir)
}

func TestLoadConfig_LayersSources(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "", map[string]any{
		"api_base_url":    "https://json.example",
		"data_dir":        dir,
		"log_format":      "json",
		"max_logs":        50,
		"request_timeout": "4s",
	})
	t.Setenv(EnvPrefix+"API_BASE_URL", "https://env.example")

	cfg, err := LoadConfig([]string{"-c", path, "-i", "7", "console"})
	require.NoError(t, err, "LoadConfig must not fail")

	assert.Equal(t, "https://env.example", cfg.APIBaseURL, "env overrides JSON")
	assert.Equal(t, 7*time.Second, cfg.OnlineCheckInterval, "flags override defaults")
	assert.Equal(t, 4*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 50, cfg.MaxLogs)
	assert.Equal(t, filepath.Join(dir, "declaro.db"), cfg.DBPath)
}

func TestLoadConfig_FlagBeatsEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"API_BASE_URL", "https://env.example")
	t.Setenv(EnvPrefix+"DB_PATH", "/tmp/env.db")

	cfg, err := LoadConfig([]string{"-a", "https://flag.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example", cfg.APIBaseURL)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig([]string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)

	_, err = LoadConfig([]string{"-i", "abc"})
	require.Error(t, err)
}
