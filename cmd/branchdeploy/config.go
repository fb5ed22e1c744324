package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// =============================================================================
// Environment Snapshot
// =============================================================================

// LoadEnvironment snapshots the process environment into a plain map, the
// only view the rest of the program sees. When envFile is given (local runs),
// its flat YAML keys fill in whatever the environment leaves unset; real
// environment variables always win, matching CI where everything arrives as
// repository variables.
func LoadEnvironment(envFile string) (map[string]string, error) {
	vars := make(map[string]string)

	if envFile != "" {
		v := viper.New()
		v.SetConfigFile(envFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for _, key := range v.AllKeys() {
			name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			vars[name] = v.GetString(key)
		}
	}

	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if value != "" {
			vars[name] = value
		}
	}
	return vars, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// LoadLogConfig reads BRANCHDEPLOY_LOG_LEVEL and BRANCHDEPLOY_LOG_FORMAT.
func LoadLogConfig() LogConfig {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetEnvPrefix("BRANCHDEPLOY")
	v.AutomaticEnv()

	return LogConfig{
		Level:  v.GetString("log_level"),
		Format: v.GetString("log_format"),
	}
}

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr so stdout stays clean for the step narration.
func SetupLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
