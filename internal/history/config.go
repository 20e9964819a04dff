package history

import (
	"fmt"
	"time"
)

// Config defines buffering for run history writes
type Config struct {
	// Channel buffer size
	ChannelSize int `toml:"channel_size"`

	// How long Record waits for room in a full channel before dropping the update
	SendTimeout time.Duration `toml:"send_timeout"`

	// Bound on a single database write
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// DefaultConfig returns history writer defaults
func DefaultConfig() Config {
	return Config{
		ChannelSize:  64,
		SendTimeout:  time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// validateConfig validates history configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.ChannelSize <= 0 {
		return fmt.Errorf("ChannelSize must be positive, got %d", config.ChannelSize)
	}

	if config.SendTimeout <= 0 {
		return fmt.Errorf("SendTimeout must be positive, got %v", config.SendTimeout)
	}

	if config.WriteTimeout <= 0 {
		return fmt.Errorf("WriteTimeout must be positive, got %v", config.WriteTimeout)
	}

	return nil
}

// Validate checks the history settings
func (c Config) Validate() error {
	return validateConfig(c)
}
