package config

import (
	"fmt"
	"strings"
)

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level name.
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %s", c.Level)
}
