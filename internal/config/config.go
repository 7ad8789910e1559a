// Package config handles engine configuration and project file loading.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds runtime settings read from the environment.
type Config struct {
	LogLevel string // log level: debug, info, warn, error (default "info")
	// MaxParallel caps concurrent target convergence. 0 means no limit.
	MaxParallel int
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		LogLevel: os.Getenv("LOG_LEVEL"),
	}
	if v := os.Getenv("MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallel = n
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}
