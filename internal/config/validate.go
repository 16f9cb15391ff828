package config

import (
	"fmt"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("config: NODE_NAME is required and hostname detection failed")
	}

	if c.CollectionInterval <= 0 {
		return fmt.Errorf("config: COLLECTION_INTERVAL must be positive, got %v", c.CollectionInterval)
	}

	if c.ExporterPort < 1 || c.ExporterPort > 65535 {
		return fmt.Errorf("config: EXPORTER_PORT must be 1-65535, got %d", c.ExporterPort)
	}

	if c.RocmSmiPath == "" {
		return fmt.Errorf("config: ROCM_SMI_PATH must not be empty")
	}

	if c.ToolTimeout <= 0 {
		return fmt.Errorf("config: ROCM_SMI_TIMEOUT must be positive, got %v", c.ToolTimeout)
	}

	if c.MappingTimeout <= 0 {
		return fmt.Errorf("config: MAPPING_TIMEOUT must be positive, got %v", c.MappingTimeout)
	}

	if c.PodUsageEnabled && c.PodUsageInterval < time.Second {
		return fmt.Errorf("config: POD_USAGE_INTERVAL must be >= 1s, got %v", c.PodUsageInterval)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}
