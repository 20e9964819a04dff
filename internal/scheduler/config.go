package scheduler

import (
	"fmt"
	"time"
)

// DefaultInterval is the polling interval used when none is configured
const DefaultInterval = 300 * time.Second

// Config defines the collection timer
type Config struct {
	// Time between the start of consecutive timer ticks
	Interval time.Duration `toml:"interval"`
}

// DefaultConfig returns scheduler defaults
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
	}
}

// validateConfig validates scheduler configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.Interval <= 0 {
		return fmt.Errorf("Interval must be positive, got %v", config.Interval)
	}
	return nil
}
