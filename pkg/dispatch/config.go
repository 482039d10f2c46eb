package dispatch

import (
	"os"
	"strconv"
	"time"
)

// Config controls dispatcher behavior.
type Config struct {
	Concurrency         int           // Max entries dispatched concurrently in a batch. Default 4.
	CollaboratorTimeout time.Duration // Deadline for one work order creation call. Default 10s.
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:         4,
		CollaboratorTimeout: 10 * time.Second,
	}
}

// ConfigFromEnv loads config from environment variables.
// SCHED_DISPATCH_CONCURRENCY, SCHED_COLLABORATOR_TIMEOUT_SECONDS
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SCHED_DISPATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("SCHED_COLLABORATOR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CollaboratorTimeout = time.Duration(n) * time.Second
		}
	}

	return cfg
}
