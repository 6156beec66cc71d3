// Package retry implements the two retry modes of spec §4.11: a plain
// exponential backoff for generically retryable errors, and an indefinite
// network-wait loop for connectivity failures that suspends behind a
// liveness probe instead of giving up. Both are grounded in the teacher's
// internal/graph/client.go doRetry/calcBackoff, adapted from Graph-specific
// error classification to internal/errtypes.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/syncagent/engine/internal/errtypes"
)

// BackoffConfig parametrizes Backoff. Defaults mirror spec §4.11: initial 1s,
// ×2 multiplier, cap 60s, 5 retries after the first attempt.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int

	// JitterFraction adds ±fraction random jitter to each computed delay,
	// following the teacher's calcBackoff (jitterFraction = 0.25).
	JitterFraction float64

	// SleepFunc overrides the interruptible sleep; tests substitute a
	// no-op to avoid real delays.
	SleepFunc func(ctx context.Context, d time.Duration) error
}

// DefaultBackoffConfig returns the spec-mandated defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:   1 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		MaxRetries:     5,
		JitterFraction: 0.25,
		SleepFunc:      sleepContext,
	}
}

// Backoff calls fn, retrying with exponential backoff while the returned
// error classifies as retryable per internal/errtypes, up to cfg.MaxRetries
// retries after the first attempt. A non-retryable error or context
// cancellation returns immediately. Exhausting retries returns the last
// error, wrapped.
func Backoff(ctx context.Context, fn func() error, cfg BackoffConfig) error {
	sleep := cfg.SleepFunc
	if sleep == nil {
		sleep = sleepContext
	}

	var attempt int

	for {
		err := fn()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry: canceled: %w", ctx.Err())
		}

		if !errtypes.Retryable(errtypes.Classify(err)) {
			return err
		}

		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("retry: exhausted %d retries: %w", cfg.MaxRetries, err)
		}

		delay := calcDelay(cfg, attempt)

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("retry: canceled during backoff: %w", sleepErr)
		}

		attempt++
	}
}

// calcDelay computes exponential backoff with jitter, following the
// teacher's calcBackoff.
func calcDelay(cfg BackoffConfig, attempt int) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = 1 * time.Second
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	multiplier := cfg.Multiplier
	if multiplier <= 1.0 {
		multiplier = 2.0
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if cfg.JitterFraction > 0 {
		delay += delay * cfg.JitterFraction * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = 0
		}

		if delay > float64(maxDelay) {
			delay = float64(maxDelay)
		}
	}

	return time.Duration(delay)
}

// sleepContext sleeps for d or returns ctx.Err() if ctx is canceled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
