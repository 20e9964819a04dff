package upstream

import (
	"fmt"
	"time"
)

// DefaultDataPath is the route of the data endpoint
const DefaultDataPath = "/api/data"

// ClientConfig locates the data API and bounds each request
type ClientConfig struct {
	Host     string        `toml:"host"`
	Port     int           `toml:"port"`
	DataPath string        `toml:"data_path"`
	Timeout  time.Duration `toml:"timeout"`
}

// DefaultClientConfig returns the client defaults (localhost:8000, 30s timeout)
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:     "localhost",
		Port:     8000,
		DataPath: DefaultDataPath,
		Timeout:  30 * time.Second,
	}
}

// BaseURL returns scheme://host:port
func (c ClientConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// DataURL returns the full URL of the data endpoint
func (c ClientConfig) DataURL() string {
	return c.BaseURL() + c.DataPath
}

// ServerConfig configures the data API server
type ServerConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`

	// Upper bound on records returned when limitYn is N
	MaxRecords int `toml:"max_records"`

	// Records returned when limitYn is Y
	LimitedCount int `toml:"limited_count"`

	// Spacing between generated sample timestamps
	SampleStep time.Duration `toml:"sample_step"`

	// Gzip responses for clients that accept it
	Compress bool `toml:"compress"`
}

// DefaultServerConfig returns the data API defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "0.0.0.0",
		Port:         8000,
		MaxRecords:   50000,
		LimitedCount: 15,
		SampleStep:   10 * time.Minute,
		Compress:     true,
	}
}

func validateClientConfig(cfg ClientConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("upstream host must be specified")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("upstream port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %v", cfg.Timeout)
	}
	return nil
}

func validateServerConfig(cfg ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.MaxRecords <= 0 {
		return fmt.Errorf("server max_records must be positive, got %d", cfg.MaxRecords)
	}
	if cfg.LimitedCount <= 0 {
		return fmt.Errorf("server limited_count must be positive, got %d", cfg.LimitedCount)
	}
	if cfg.SampleStep <= 0 {
		return fmt.Errorf("server sample_step must be positive, got %v", cfg.SampleStep)
	}
	return nil
}

// Validate checks the client configuration
func (c ClientConfig) Validate() error { return validateClientConfig(c) }

// Validate checks the server configuration
func (c ServerConfig) Validate() error { return validateServerConfig(c) }
