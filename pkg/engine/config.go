package engine

import (
	"os"
	"strconv"
	"time"

	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// Config controls engine behavior.
type Config struct {
	PersistenceTimeout time.Duration     // Deadline applied to each repository unit of work. Default 5s.
	DefaultStrategy    schedule.Strategy // Sequencing strategy when the caller names none. Default priority.
	MaxPageSize        int               // Upper bound for list and history page sizes. Default 100.
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		PersistenceTimeout: 5 * time.Second,
		DefaultStrategy:    schedule.StrategyPriority,
		MaxPageSize:        100,
	}
}

// ConfigFromEnv loads config from environment variables.
// SCHED_PERSISTENCE_TIMEOUT_SECONDS, SCHED_DEFAULT_STRATEGY, SCHED_MAX_PAGE_SIZE
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SCHED_PERSISTENCE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PersistenceTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("SCHED_DEFAULT_STRATEGY"); v != "" {
		if s, err := schedule.ParseStrategy(v); err == nil {
			cfg.DefaultStrategy = s
		}
	}

	if v := os.Getenv("SCHED_MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPageSize = n
		}
	}

	return cfg
}
