package feasibility

import (
	"os"
	"strconv"
)

// Config controls constraint evaluation behavior.
type Config struct {
	SoftUtilizationThreshold float64 // Capacity utilization ratio that raises a WARNING. Default 0.85.
	MaterialSafetyMargin     float64 // Fraction of available material kept as headroom. Default 0.10.
	EvalConcurrency          int     // Max entries evaluated concurrently per schedule. Default 4.
}

// DefaultConfig returns the default evaluation configuration.
func DefaultConfig() *Config {
	return &Config{
		SoftUtilizationThreshold: 0.85,
		MaterialSafetyMargin:     0.10,
		EvalConcurrency:          4,
	}
}

// ConfigFromEnv loads config from environment variables.
// SCHED_CAPACITY_SOFT_THRESHOLD, SCHED_MATERIAL_SAFETY_MARGIN,
// SCHED_EVAL_CONCURRENCY
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SCHED_CAPACITY_SOFT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.SoftUtilizationThreshold = f
		}
	}

	if v := os.Getenv("SCHED_MATERIAL_SAFETY_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f < 1 {
			cfg.MaterialSafetyMargin = f
		}
	}

	if v := os.Getenv("SCHED_EVAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EvalConcurrency = n
		}
	}

	return cfg
}
