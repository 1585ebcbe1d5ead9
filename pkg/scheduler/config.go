package scheduler

import (
	"os"
	"strconv"
	"time"

	"github.com/opsforge/buildsync/pkg/pattern"
)

// Config controls the synchronization scheduler. One read-only snapshot is
// passed in at construction; jobs never consult ambient global state.
type Config struct {
	Concurrency     int           // Max branch jobs in flight. Default 100.
	PollInterval    time.Duration // Sleep between cycles. Default 60s.
	RetentionLimit  int           // Retained builds per branch. Default 5.
	BaseDir         string        // Root of staging/extracted trees.
	DefaultTemplate string        // Path template for branches without an override.
	Enabled         bool          // Whether the scheduler runs at all. Default true.
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:     100,
		PollInterval:    60 * time.Second,
		RetentionLimit:  5,
		BaseDir:         "/var/lib/buildsync",
		DefaultTemplate: pattern.DefaultTemplate,
		Enabled:         true,
	}
}

// ConfigFromEnv loads config from environment variables:
// BUILDSYNC_CONCURRENCY, BUILDSYNC_POLL_INTERVAL_SECONDS,
// BUILDSYNC_RETENTION_LIMIT, BUILDSYNC_BASE_DIR,
// BUILDSYNC_DEFAULT_TEMPLATE, BUILDSYNC_ENABLED.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("BUILDSYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("BUILDSYNC_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("BUILDSYNC_RETENTION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionLimit = n
		}
	}

	if v := os.Getenv("BUILDSYNC_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}

	if v := os.Getenv("BUILDSYNC_DEFAULT_TEMPLATE"); v != "" {
		cfg.DefaultTemplate = v
	}

	if v := os.Getenv("BUILDSYNC_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
