package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging settings
type Config struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`

	// Optional log file, written in addition to stdout
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

// DefaultConfig logs info and above as text to stdout. When a file is set it
// rotates at 10 MB and keeps compressed backups for 7 days.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Validate checks the logging configuration
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.File != "" {
		if c.MaxSizeMB <= 0 {
			return fmt.Errorf("logging max_size_mb must be positive, got %d", c.MaxSizeMB)
		}
		if c.MaxAgeDays < 0 || c.MaxBackups < 0 {
			return fmt.Errorf("logging max_age_days and max_backups must not be negative")
		}
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// New builds a logger writing to stdout and, if configured, a rotated file.
// The returned closer releases the file and is safe to call when there is none.
func New(config Config) (*slog.Logger, io.Closer, error) {
	return newLogger(config, os.Stdout)
}

func newLogger(config Config, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := ParseLevel(config.Level)

	out := stdout
	var closer io.Closer = nopCloser{}
	if config.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxAge:     config.MaxAgeDays,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
		out = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
