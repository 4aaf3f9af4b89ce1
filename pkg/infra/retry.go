package infra

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Public Types - Retry Configuration
// -----------------------------------------------------------------------------

// RetryConfig bounds how an operation is retried. Values are immutable, the
// canonical presets below cover the cases the installers need.
type RetryConfig struct {
	MaxAttempts       uint
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	UseJitter         bool
}

// QuickRetry suits short network operations: chart repo updates, HTTP
// probes, API lookups.
func QuickRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		UseJitter:         true,
	}
}

// SlowRetry suits service readiness and cluster-mutating operations, which
// are expected to be flaky while the cluster settles.
func SlowRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      2 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		UseJitter:         true,
	}
}

// NoRetry executes the operation exactly once.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1, BackoffMultiplier: 1.0}
}

// delay computes the backoff before retry n (0-based), capped at MaxDelay
// and optionally jittered by up to ±50% to avoid thundering-herd retries
// against a shared cluster API.
func (c RetryConfig) delay(n uint) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(n))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && d > max {
		d = max
	}
	if c.UseJitter && d > 0 {
		d = d/2 + rand.Float64()*d //nolint:gosec
	}
	return time.Duration(d)
}

// -----------------------------------------------------------------------------
// Retry Engine
// -----------------------------------------------------------------------------

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff.
// Transient errors are retried, fatal errors propagate on first occurrence,
// and unclassified errors are treated (and classified) as transient. The
// final error is annotated with the attempt count and total elapsed time.
func Retry(ctx context.Context, cfg RetryConfig, component Component, phase InstallPhase, operation string, fn func(context.Context) error) error {
	_, err := RetryResult(ctx, cfg, component, phase, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryResult is Retry for operations that produce a value.
func RetryResult[T any](ctx context.Context, cfg RetryConfig, component Component, phase InstallPhase, operation string, fn func(context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	if ctx.Err() != nil {
		var zero T
		return zero, Cancelled(component, phase, ctx.Err())
	}

	logger := logrus.WithFields(logrus.Fields{
		"component": component,
		"operation": operation,
	})

	start := time.Now()
	var tried uint

	result, err := retry.DoWithData(
		func() (T, error) {
			tried++
			if ctx.Err() != nil {
				var zero T
				return zero, Cancelled(component, phase, ctx.Err())
			}
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !IsFatal(err)
		}),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return cfg.delay(n)
		}),
		retry.OnRetry(func(n uint, err error) {
			// attempts get louder as they accumulate
			entry := logger.WithField("attempt", n+1)
			if n+1 > attempts/2 {
				entry.WithError(err).Warnf("%s failed, retrying", operation)
			} else {
				entry.WithError(err).Infof("%s failed, retrying", operation)
			}
		}),
	)
	if err == nil {
		return result, nil
	}

	elapsed := time.Since(start)
	if ie, ok := AsInfraError(err); ok {
		annotated := *ie
		annotated.Attempts = tried
		annotated.Elapsed = elapsed
		return result, &annotated
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cancelled := Cancelled(component, phase, err)
		cancelled.Attempts = tried
		cancelled.Elapsed = elapsed
		return result, cancelled
	}

	// Boundary errors must be classified before propagating past the
	// retry engine; anything the operation left raw is transient here.
	classified := Transient(ErrInstallation, component, phase,
		operation+" failed", "re-run with --log-level debug for details", err)
	classified.Attempts = tried
	classified.Elapsed = elapsed
	return result, classified
}
