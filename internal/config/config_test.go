package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"TRADESIM_DB", "TRADESIM_SCENARIO", "TRADESIM_API_PORT", "TRADESIM_ADMIN_KEY",
	"TRADESIM_WORKERS", "TRADESIM_INTERVAL_MS", "LOG_LEVEL", "CORS_ORIGINS",
	"TRADESIM_API_URL", "MARKETWATCH_INTERVAL_S", "MARKETWATCH_STALL_STEPS", "MARKETWATCH_MEMORY",
}

// clearEnv unsets every key for the test. godotenv.Load sets variables with
// os.Setenv, so they are restored by hand.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(filepath.Join(t.TempDir(), "none.env"))

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "data/tradesim.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Zero(t, cfg.APIPort)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRADESIM_DB", "/tmp/x.db")
	t.Setenv("TRADESIM_API_PORT", "8080")
	t.Setenv("TRADESIM_WORKERS", "0")
	t.Setenv("TRADESIM_INTERVAL_MS", "250")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MARKETWATCH_INTERVAL_S", "5")
	t.Setenv("MARKETWATCH_STALL_STEPS", "notanumber")

	cfg := Load(filepath.Join(t.TempDir(), "none.env"))

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.Watch.Interval)
	assert.Equal(t, 5, cfg.Watch.StallSteps)
	assert.Equal(t, "data/marketwatch.json", cfg.Watch.MemoryPath)
}

func TestDotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TRADESIM_SCENARIO=water.yaml\nTRADESIM_ADMIN_KEY=secret\nTRADESIM_DB=file.db\n"), 0o644))
	t.Setenv("TRADESIM_DB", "env.db")

	cfg := Load(path)
	t.Cleanup(func() {
		os.Unsetenv("TRADESIM_SCENARIO")
		os.Unsetenv("TRADESIM_ADMIN_KEY")
	})

	assert.Equal(t, "water.yaml", cfg.Scenario)
	assert.Equal(t, "secret", cfg.AdminKey)
	assert.Equal(t, "env.db", cfg.DBPath, "environment wins over the file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, ParseLevel(" error ", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud", slog.LevelInfo))
}
