package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"api_base_url":          "https://portail.example",
		"online_check_interval": "10s",
		"request_timeout":       int64(2 * time.Second),
	})

	t.Run("loads from flags", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, parseJson(cfg, []string{"-config", pathFlag}))

		assert.Equal(t, "https://portail.example", cfg.APIBaseURL)
		assert.Equal(t, 10*time.Second, cfg.OnlineCheckInterval)
		assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	})

	t.Run("no flags → no changes", func(t *testing.T) {
		cfg := &Config{
			APIBaseURL:          "http://defaults:1234",
			OnlineCheckInterval: 42 * time.Second,
			LogLevel:            "warn",
		}
		require.NoError(t, parseJson(cfg, nil))

		assert.Equal(t, "http://defaults:1234", cfg.APIBaseURL)
		assert.Equal(t, 42*time.Second, cfg.OnlineCheckInterval)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("absent fields keep earlier values", func(t *testing.T) {
		cfg := &Config{LogLevel: "warn", MaxLogs: 7}
		require.NoError(t, parseJson(cfg, []string{"-c", pathFlag}))

		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 7, cfg.MaxLogs)
	})

	t.Run("invalid JSON → error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		cfg := &Config{}
		require.Error(t, parseJson(cfg, []string{"-c", bad}))
	})
}
