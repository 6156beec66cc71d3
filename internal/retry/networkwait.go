package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/syncagent/engine/internal/errtypes"
)

// HealthProbe checks server liveness, satisfied by (*remote.Client).Health.
type HealthProbe interface {
	Health(ctx context.Context) error
}

// Observer receives notifications as a NetworkWait loop suspends and
// resumes, so the coordinator can surface connectivity status to the user.
type Observer struct {
	OnWaiting  func()
	OnRestored func()
}

// NetworkWaitConfig parametrizes NetworkWait.
type NetworkWaitConfig struct {
	PollInterval time.Duration
	Backoff      BackoffConfig
}

// DefaultNetworkWaitConfig polls every 5s (spec §4.11) and falls back to the
// default backoff config once connectivity is restored.
func DefaultNetworkWaitConfig() NetworkWaitConfig {
	return NetworkWaitConfig{
		PollInterval: 5 * time.Second,
		Backoff:      DefaultBackoffConfig(),
	}
}

// NetworkWait calls fn. If fn fails with a connectivity error, it suspends
// indefinitely in a liveness-probe loop against probe, polling every
// cfg.PollInterval and invoking obs.OnWaiting once on entry. Once the probe
// succeeds, obs.OnRestored fires, the backoff counter resets, and fn is
// retried. Other retryable errors (transient) fall back to plain Backoff.
// Non-retryable errors and context cancellation return immediately.
func NetworkWait(ctx context.Context, fn func() error, probe HealthProbe, cfg NetworkWaitConfig, obs Observer) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry: canceled: %w", ctx.Err())
		}

		kind := errtypes.Classify(err)

		switch kind {
		case errtypes.KindConnectivity:
			if waitErr := waitForRestoration(ctx, probe, cfg.PollInterval, obs); waitErr != nil {
				return waitErr
			}
			// Connectivity restored: loop back and retry fn with a fresh
			// backoff counter (network-wait never counts toward MaxRetries).
			continue

		case errtypes.KindTransient:
			if backoffErr := Backoff(ctx, fn, cfg.Backoff); backoffErr != nil {
				return backoffErr
			}

			return nil

		default:
			return err
		}
	}
}

// waitForRestoration polls probe.Health until it succeeds or ctx is done.
func waitForRestoration(ctx context.Context, probe HealthProbe, pollInterval time.Duration, obs Observer) error {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	if obs.OnWaiting != nil {
		obs.OnWaiting()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry: canceled while waiting for connectivity: %w", ctx.Err())
		case <-ticker.C:
			if probe.Health(ctx) == nil {
				if obs.OnRestored != nil {
					obs.OnRestored()
				}

				return nil
			}
		}
	}
}
