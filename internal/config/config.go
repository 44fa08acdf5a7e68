// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings for the simulator and the market watcher.
type Config struct {
	DBPath      string        // TRADESIM_DB
	Scenario    string        // TRADESIM_SCENARIO, empty for the built-in scenario
	APIPort     int           // TRADESIM_API_PORT, 0 disables the API
	AdminKey    string        // TRADESIM_ADMIN_KEY
	Workers     int           // TRADESIM_WORKERS
	Interval    time.Duration // TRADESIM_INTERVAL_MS
	LogLevel    slog.Level    // LOG_LEVEL
	CORSOrigins []string      // CORS_ORIGINS, comma separated

	Watch Watch
}

// Watch holds the market watcher's settings.
type Watch struct {
	APIURL     string        // TRADESIM_API_URL
	Interval   time.Duration // MARKETWATCH_INTERVAL_S
	StallSteps int           // MARKETWATCH_STALL_STEPS
	MemoryPath string        // MARKETWATCH_MEMORY
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DBPath:      "data/tradesim.db",
		Workers:     4,
		LogLevel:    slog.LevelInfo,
		CORSOrigins: []string{"http://localhost:5173"},
		Watch: Watch{
			APIURL:     "http://localhost:8080",
			Interval:   30 * time.Second,
			StallSteps: 5,
			MemoryPath: "data/marketwatch.json",
		},
	}
}

// Load reads envPath (or ./.env when empty) if it exists, then applies
// environment variables over the defaults. Variables already set in the
// environment win over the file.
func Load(envPath string) Config {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	cfg.DBPath = envOrDefault("TRADESIM_DB", cfg.DBPath)
	cfg.Scenario = envOrDefault("TRADESIM_SCENARIO", cfg.Scenario)
	cfg.APIPort = envIntOrDefault("TRADESIM_API_PORT", cfg.APIPort)
	cfg.AdminKey = os.Getenv("TRADESIM_ADMIN_KEY")
	cfg.Workers = envIntOrDefault("TRADESIM_WORKERS", cfg.Workers)
	cfg.Interval = time.Duration(envIntOrDefault("TRADESIM_INTERVAL_MS", 0)) * time.Millisecond
	cfg.LogLevel = ParseLevel(os.Getenv("LOG_LEVEL"), cfg.LogLevel)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	cfg.Watch.APIURL = envOrDefault("TRADESIM_API_URL", cfg.Watch.APIURL)
	cfg.Watch.Interval = time.Duration(envIntOrDefault("MARKETWATCH_INTERVAL_S", int(cfg.Watch.Interval/time.Second))) * time.Second
	cfg.Watch.StallSteps = envIntOrDefault("MARKETWATCH_STALL_STEPS", cfg.Watch.StallSteps)
	cfg.Watch.MemoryPath = envOrDefault("MARKETWATCH_MEMORY", cfg.Watch.MemoryPath)

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
