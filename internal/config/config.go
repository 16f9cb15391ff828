package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all exporter configuration values.
type Config struct {
	NodeName           string        // NODE_NAME, default: os.Hostname()
	CollectionInterval time.Duration // COLLECTION_INTERVAL, default: 300s (bare integers are seconds)
	ExporterPort       int           // EXPORTER_PORT, default: 9400
	RocmSmiPath        string        // ROCM_SMI_PATH, default: "rocm-smi" (resolved via PATH)
	ToolTimeout        time.Duration // ROCM_SMI_TIMEOUT, default: 30s
	MappingTimeout     time.Duration // MAPPING_TIMEOUT, default: 10s

	// Pod usage enrichment (metrics.k8s.io)
	PodUsageEnabled  bool          // POD_USAGE_ENABLED, default: true
	PodUsageInterval time.Duration // POD_USAGE_INTERVAL, default: 60s

	DebugEndpoints bool   // DEBUG_ENDPOINTS, default: false — enables pprof/debug on the exporter port
	LogLevel       string // LOG_LEVEL, default: "info"

	// Version is injected by main from the build, not the environment.
	Version string
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		NodeName:           os.Getenv("NODE_NAME"),
		CollectionInterval: parseDuration("COLLECTION_INTERVAL", 300*time.Second),
		ExporterPort:       parseInt("EXPORTER_PORT", 9400),
		RocmSmiPath:        envOrDefault("ROCM_SMI_PATH", "rocm-smi"),
		ToolTimeout:        parseDuration("ROCM_SMI_TIMEOUT", 30*time.Second),
		MappingTimeout:     parseDuration("MAPPING_TIMEOUT", 10*time.Second),
		PodUsageEnabled:    parseBool("POD_USAGE_ENABLED", true),
		PodUsageInterval:   parseDuration("POD_USAGE_INTERVAL", 60*time.Second),
		DebugEndpoints:     parseBool("DEBUG_ENDPOINTS", false),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
	}

	// Outside a DaemonSet the downward API is absent; the hostname is the
	// node name on bare-metal runs.
	if cfg.NodeName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeName = host
		}
	}

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
