package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Public Types - Health Checking
// -----------------------------------------------------------------------------

// HealthStatus summarizes a health snapshot.
type HealthStatus string

const (
	// StatusHealthy means every sub-check passed.
	StatusHealthy HealthStatus = "healthy"

	// StatusDegraded means some, but not all, sub-checks failed.
	StatusDegraded HealthStatus = "degraded"

	// StatusUnhealthy means every sub-check failed.
	StatusUnhealthy HealthStatus = "unhealthy"

	// StatusUnknown means the target could not be assessed at all.
	StatusUnknown HealthStatus = "unknown"
)

// SubCheck is one named assessment within a health snapshot.
type SubCheck struct {
	Name    string
	Passed  bool
	Message string
}

// HealthCheckResult is an immutable snapshot produced by one poll. Polling
// loops replace snapshots, they never mutate them.
type HealthCheckResult struct {
	Status  HealthStatus
	Message string
	Checks  []SubCheck
}

// Summarize builds a HealthCheckResult from sub-check results, deriving the
// overall status from how many passed.
func Summarize(checks []SubCheck) HealthCheckResult {
	passed := 0
	var failing []string
	for _, c := range checks {
		if c.Passed {
			passed++
		} else {
			failing = append(failing, c.Name)
		}
	}

	switch {
	case len(checks) == 0:
		return HealthCheckResult{Status: StatusUnknown, Message: "no checks performed"}
	case passed == len(checks):
		return HealthCheckResult{Status: StatusHealthy, Message: "all checks passed", Checks: checks}
	case passed == 0:
		return HealthCheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("failing: %s", strings.Join(failing, ", ")),
			Checks:  checks,
		}
	default:
		return HealthCheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("failing: %s", strings.Join(failing, ", ")),
			Checks:  checks,
		}
	}
}

// HealthChecker performs a single, non-blocking poll of a target.
type HealthChecker interface {
	// Check assesses the target once. Errors reaching the target are
	// reported in the result as StatusUnknown, not returned.
	Check(ctx context.Context) HealthCheckResult
}

// WaitOptions bound a wait-until-healthy polling loop.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// -----------------------------------------------------------------------------
// Health Checking - Polling
// -----------------------------------------------------------------------------

// WaitUntilHealthy polls checker on a fixed interval until the target
// reports StatusHealthy or the timeout elapses. On expiry the returned error
// is an InfraError carrying the last observed snapshot — ErrTimeout when the
// target was seen but never healthy, ErrHealthCheck when it could not be
// assessed at all; callers that tolerate StatusDegraded can inspect the
// snapshot. Every wait is timeout-bounded, and
// caller cancellation is honored at the top of each poll.
func WaitUntilHealthy(ctx context.Context, component Component, checker HealthChecker, opts WaitOptions, logger *logrus.Entry) (HealthCheckResult, error) {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last HealthCheckResult
	for {
		if ctx.Err() != nil {
			return last, Cancelled(component, PhaseBootstrap, ctx.Err())
		}

		last = checker.Check(ctx)
		if last.Status == StatusHealthy {
			return last, nil
		}
		logger.WithFields(logrus.Fields{
			"component": component,
			"status":    last.Status,
		}).Debugf("not healthy yet: %s", last.Message)

		if time.Now().After(deadline) {
			// a target that was never assessable is a health-check
			// problem, not a slow component
			kind := ErrTimeout
			if last.Status == StatusUnknown {
				kind = ErrHealthCheck
			}
			err := Transient(kind, component, PhaseBootstrap,
				fmt.Sprintf("did not become healthy within %s (last status %s: %s)", opts.Timeout, last.Status, last.Message),
				"inspect the component's pods and logs, then re-run setup",
				nil)
			err.LastHealth = &last
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, Cancelled(component, PhaseBootstrap, ctx.Err())
		case <-ticker.C:
		}
	}
}
