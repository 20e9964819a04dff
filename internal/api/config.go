package api

import "fmt"

// Config holds status API server settings
type Config struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`

	// Upper bound for GET /runs?limit=n
	MaxRunsLimit int `toml:"max_runs_limit"`
}

// DefaultConfig returns the status API defaults
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Address:      "0.0.0.0",
		Port:         8080,
		MaxRunsLimit: 500,
	}
}

func validateConfig(config Config) error {
	if !config.Enabled {
		return nil
	}
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if config.MaxRunsLimit <= 0 {
		return fmt.Errorf("HTTP max_runs_limit must be positive, got %d", config.MaxRunsLimit)
	}
	return nil
}

// Validate checks the status API configuration
func (c Config) Validate() error { return validateConfig(c) }
