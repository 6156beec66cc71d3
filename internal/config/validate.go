package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants, following the teacher's validate.go pattern of
// named bounds rather than inline magic numbers.
const (
	minPoolSize = 1
	maxPoolSize = 64
	minRetries  = 0
	maxRetries  = 100
)

// ValidateSettings checks all tunables and accumulates every error found
// rather than stopping at the first, so a user fixing engine.toml sees the
// complete report in one pass (mirrors the teacher's Validate).
func ValidateSettings(cfg *Settings) error {
	var errs []error

	if cfg.Workers.PoolSize < minPoolSize || cfg.Workers.PoolSize > maxPoolSize {
		errs = append(errs, fmt.Errorf("workers.pool_size: must be between %d and %d, got %d",
			minPoolSize, maxPoolSize, cfg.Workers.PoolSize))
	}

	if cfg.Retry.MaxRetries < minRetries || cfg.Retry.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("retry.max_retries: must be between %d and %d, got %d",
			minRetries, maxRetries, cfg.Retry.MaxRetries))
	}

	errs = append(errs, validateDuration("retry.initial_backoff", cfg.Retry.InitialBackoff)...)
	errs = append(errs, validateDuration("retry.max_backoff", cfg.Retry.MaxBackoff)...)
	errs = append(errs, validateDuration("retry.health_poll_interval", cfg.Retry.HealthPollInterval)...)
	errs = append(errs, validateDuration("watcher.coalesce_window", cfg.Watcher.CoalesceWindow)...)
	errs = append(errs, validateDuration("watcher.quiet_delay", cfg.Watcher.QuietDelay)...)
	errs = append(errs, validateDuration("network.request_timeout", cfg.Network.RequestTimeout)...)
	errs = append(errs, validateDuration("network.push_open_timeout", cfg.Network.PushOpenTimeout)...)
	errs = append(errs, validateDuration("network.push_message_quiet_limit", cfg.Network.PushMessageQuietLimit)...)

	if cfg.Retry.BackoffMultiplier <= 1.0 {
		errs = append(errs, fmt.Errorf("retry.backoff_multiplier: must be greater than 1.0, got %v",
			cfg.Retry.BackoffMultiplier))
	}

	return errors.Join(errs...)
}

func validateDuration(field, value string) []error {
	if value == "" {
		return nil
	}

	if _, err := time.ParseDuration(value); err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	return nil
}
