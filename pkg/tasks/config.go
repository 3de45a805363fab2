package tasks

import (
	"os"
	"strconv"
	"time"
)

// Config controls task queue and worker behavior.
type Config struct {
	Concurrency   int           // Max concurrent workers. Default 3.
	MaxRetries    int           // Max retry attempts per task. Default 1.
	PollInterval  time.Duration // How often workers poll for new tasks. Default 5s.
	ClaimTimeout  time.Duration // Max time a task can be "running" before considered stuck. Default 30m.
	RetryDelay    time.Duration // Delay before a retry-later task becomes claimable again. Default 2m.
	RetentionDays int           // How long to keep terminal tasks. Default 7.
	Enabled       bool          // Whether the task system is active. Default true.
}

// DefaultConfig returns the default task configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:   3,
		MaxRetries:    1,
		PollInterval:  5 * time.Second,
		ClaimTimeout:  30 * time.Minute,
		RetryDelay:    2 * time.Minute,
		RetentionDays: 7,
		Enabled:       true,
	}
}

// ConfigFromEnv loads config from environment variables.
// EMPOWER_TASK_CONCURRENCY, EMPOWER_TASK_MAX_RETRIES,
// EMPOWER_TASK_POLL_INTERVAL_SECONDS, EMPOWER_TASK_CLAIM_TIMEOUT_MINUTES,
// EMPOWER_TASK_RETRY_DELAY_SECONDS, EMPOWER_TASK_RETENTION_DAYS,
// EMPOWER_TASK_ENABLED
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("EMPOWER_TASK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("EMPOWER_TASK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("EMPOWER_TASK_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("EMPOWER_TASK_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("EMPOWER_TASK_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryDelay = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("EMPOWER_TASK_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("EMPOWER_TASK_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
