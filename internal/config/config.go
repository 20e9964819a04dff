package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/collector/internal/api"
	"github.com/livinlefevreloca/collector/internal/cycle"
	"github.com/livinlefevreloca/collector/internal/db"
	"github.com/livinlefevreloca/collector/internal/history"
	"github.com/livinlefevreloca/collector/internal/logging"
	"github.com/livinlefevreloca/collector/internal/metrics"
	"github.com/livinlefevreloca/collector/internal/scheduler"
	"github.com/livinlefevreloca/collector/internal/store"
	"github.com/livinlefevreloca/collector/internal/tracker"
	"github.com/livinlefevreloca/collector/internal/upstream"
)

// EnvConfigFile names the environment variable consulted when no -config flag is given
const EnvConfigFile = "CONFIG_FILE"

// Config represents the application configuration
type Config struct {
	Upstream  upstream.ClientConfig `toml:"upstream"`
	Collector CollectorConfig       `toml:"collector"`
	Storage   store.Config          `toml:"storage"`
	Database  db.Config             `toml:"database"`
	History   history.Config        `toml:"history"`
	HTTP      api.Config            `toml:"http"`
	Metrics   metrics.Config        `toml:"metrics"`
	Logging   logging.Config        `toml:"logging"`
	Server    upstream.ServerConfig `toml:"server"`
}

// CollectorConfig holds the polling loop settings
type CollectorConfig struct {
	Interval   time.Duration `toml:"interval"`
	MaxRecords int           `toml:"max_records"`

	// How far back the first window of a fresh process reaches
	Lookback time.Duration `toml:"lookback"`

	// Keep the tracker cursor in the database so a restart resumes where it left off
	PersistCursor bool `toml:"persist_cursor"`
}

// Scheduler returns the scheduler's slice of the collector settings
func (c CollectorConfig) Scheduler() scheduler.Config {
	return scheduler.Config{Interval: c.Interval}
}

// Cycle returns the cycle's slice of the collector settings
func (c CollectorConfig) Cycle() cycle.Config {
	return cycle.Config{MaxRecords: c.MaxRecords}
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Upstream: upstream.DefaultClientConfig(),
		Collector: CollectorConfig{
			Interval:   scheduler.DefaultInterval,
			MaxRecords: cycle.DefaultMaxRecords,
			Lookback:   tracker.DefaultLookback,
		},
		Storage:  store.DefaultConfig(),
		Database: db.DefaultConfig(),
		History:  history.DefaultConfig(),
		HTTP:     api.DefaultConfig(),
		Metrics:  metrics.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Server:   upstream.DefaultServerConfig(),
	}
}

// ResolvePath returns the flag value, or the CONFIG_FILE environment variable when the flag is empty
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigFile)
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("[upstream]: %w", err)
	}

	if c.Collector.Interval <= 0 {
		return fmt.Errorf("[collector]: interval must be positive")
	}
	if c.Collector.MaxRecords <= 0 {
		return fmt.Errorf("[collector]: max_records must be positive")
	}
	if c.Collector.Lookback < 0 {
		return fmt.Errorf("[collector]: lookback cannot be negative")
	}

	if c.Storage.Directory == "" {
		return fmt.Errorf("[storage]: directory must be specified")
	}

	validators := []struct {
		section string
		check   func() error
	}{
		{"database", c.Database.Validate},
		{"history", c.History.Validate},
		{"http", c.HTTP.Validate},
		{"metrics", c.Metrics.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, v := range validators {
		if err := v.check(); err != nil {
			return fmt.Errorf("[%s]: %w", v.section, err)
		}
	}

	if c.HTTP.Enabled && c.Metrics.Enabled && c.HTTP.Port == c.Metrics.Port {
		return fmt.Errorf("HTTP and metrics ports must differ, both are %d", c.HTTP.Port)
	}

	return nil
}

// ValidateServer checks only the sections the data API binary reads
func (c *Config) ValidateServer() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("[server]: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("[logging]: %w", err)
	}
	return nil
}
