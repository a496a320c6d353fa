package terrain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// maxPackedDistance is the largest distance the 8-bit packed channel can carry
const maxPackedDistance = byteMask

// LoadConfig loads the service configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.Rovers) == 0 {
		return fmt.Errorf("at least one rover must be defined")
	}

	seen := make(map[string]bool, len(c.Rovers))
	for i, rc := range c.Rovers {
		if rc.ID == "" {
			return fmt.Errorf("rovers[%d].id is required", i)
		}
		if rc.Topic == "" {
			return fmt.Errorf("rovers[%d].topic is required for %s", i, rc.ID)
		}
		if seen[rc.ID] {
			return fmt.Errorf("rovers[%d].id %q is defined twice", i, rc.ID)
		}
		seen[rc.ID] = true
	}

	if c.MaxDistance < 0 || c.MaxDistance > maxPackedDistance {
		return fmt.Errorf("maxDistance must be between 0 (default) and %d, got %d", maxPackedDistance, c.MaxDistance)
	}
	if m := c.Map; m != nil && (!(m.XMin < m.XMax) || !(m.YMin < m.YMax)) {
		return fmt.Errorf("map bounds are empty: x [%g, %g], y [%g, %g]", m.XMin, m.XMax, m.YMin, m.YMax)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
