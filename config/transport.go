package config

import (
	"fmt"

	"github.com/kilianp07/transitsim/infra/mqtt"
)

// TransportConfig chooses how agents exchange messages.
type TransportConfig struct {
	// Kind is "local" or "mqtt".
	Kind string      `json:"kind"`
	MQTT mqtt.Config `json:"mqtt"`
}

// SetDefaults applies sane defaults.
func (c *TransportConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = "local"
	}
	if c.Kind == "mqtt" {
		c.MQTT.SetDefaults()
	}
}

// Validate checks the kind and, for mqtt, the broker settings.
func (c TransportConfig) Validate() error {
	switch c.Kind {
	case "local":
		return nil
	case "mqtt":
		return c.MQTT.Validate()
	}
	return fmt.Errorf("unknown transport kind %s", c.Kind)
}
