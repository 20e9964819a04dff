package cycle

import "fmt"

// DefaultMaxRecords matches the data API's default cap for unlimited requests
const DefaultMaxRecords = 50000

// Config holds per-cycle settings
type Config struct {
	// A response with at least this many records is logged as possibly truncated
	MaxRecords int `toml:"max_records"`
}

// DefaultConfig returns cycle defaults
func DefaultConfig() Config {
	return Config{
		MaxRecords: DefaultMaxRecords,
	}
}

func validateConfig(config Config) error {
	if config.MaxRecords <= 0 {
		return fmt.Errorf("MaxRecords must be positive, got %d", config.MaxRecords)
	}
	return nil
}
