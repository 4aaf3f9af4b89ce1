package infra

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger provides a silenced logrus entry for tests across the package.
func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// scriptedChecker replays a fixed sequence of snapshots; the final snapshot
// repeats once the script is exhausted.
type scriptedChecker struct {
	results []HealthCheckResult
	calls   int
}

func (c *scriptedChecker) Check(context.Context) HealthCheckResult {
	n := c.calls
	c.calls++
	if n >= len(c.results) {
		n = len(c.results) - 1
	}
	return c.results[n]
}

func healthy() HealthCheckResult {
	return Summarize([]SubCheck{{Name: "pods-running", Passed: true}})
}

func unhealthy() HealthCheckResult {
	return Summarize([]SubCheck{{Name: "pods-running", Passed: false, Message: "0/3 running"}})
}

// -----------------------------------------------------------------------------
// Summarize
// -----------------------------------------------------------------------------

func TestSummarize(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		result := Summarize(nil)
		assert.Equal(t, StatusUnknown, result.Status)
	})

	t.Run("all passing", func(t *testing.T) {
		result := Summarize([]SubCheck{
			{Name: "api-server-reachable", Passed: true},
			{Name: "nodes-ready", Passed: true},
		})
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Len(t, result.Checks, 2)
	})

	t.Run("all failing", func(t *testing.T) {
		result := Summarize([]SubCheck{
			{Name: "api-server-reachable", Passed: false},
			{Name: "nodes-ready", Passed: false},
		})
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Contains(t, result.Message, "api-server-reachable")
		assert.Contains(t, result.Message, "nodes-ready")
	})

	t.Run("partially failing", func(t *testing.T) {
		result := Summarize([]SubCheck{
			{Name: "release-deployed", Passed: true},
			{Name: "workloads-available", Passed: false},
		})
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Contains(t, result.Message, "workloads-available")
		assert.NotContains(t, result.Message, "release-deployed")
	})
}

// -----------------------------------------------------------------------------
// WaitUntilHealthy
// -----------------------------------------------------------------------------

func TestWaitUntilHealthySucceedsAfterPolls(t *testing.T) {
	checker := &scriptedChecker{results: []HealthCheckResult{unhealthy(), unhealthy(), healthy()}}

	result, err := WaitUntilHealthy(context.Background(), ComponentRedis, checker, WaitOptions{
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, 3, checker.calls, "polling must stop on the first healthy snapshot")
}

func TestWaitUntilHealthyFirstPollIsImmediate(t *testing.T) {
	checker := &scriptedChecker{results: []HealthCheckResult{healthy()}}

	start := time.Now()
	_, err := WaitUntilHealthy(context.Background(), ComponentRedis, checker, WaitOptions{
		Interval: time.Hour,
		Timeout:  time.Hour,
	}, testLogger())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "an already-healthy target must not wait an interval")
}

func TestWaitUntilHealthyTimesOut(t *testing.T) {
	checker := &scriptedChecker{results: []HealthCheckResult{unhealthy()}}

	last, err := WaitUntilHealthy(context.Background(), ComponentGitea, checker, WaitOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  5 * time.Millisecond,
	}, testLogger())
	require.Error(t, err)
	assert.Equal(t, StatusUnhealthy, last.Status)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrTimeout, ie.Kind)
	assert.Equal(t, SeverityTransient, ie.Severity)
	assert.Equal(t, PhaseBootstrap, ie.Phase)
	require.NotNil(t, ie.LastHealth, "the timeout error must carry the last snapshot")
	assert.Equal(t, StatusUnhealthy, ie.LastHealth.Status)
	assert.Contains(t, ie.Reason, "pods-running")
}

func TestWaitUntilHealthyUnassessableTargetIsHealthCheckFailure(t *testing.T) {
	checker := &scriptedChecker{results: []HealthCheckResult{
		{Status: StatusUnknown, Message: "api server unreachable"},
	}}

	_, err := WaitUntilHealthy(context.Background(), ComponentK3s, checker, WaitOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  5 * time.Millisecond,
	}, testLogger())
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrHealthCheck, ie.Kind, "a never-assessable target is not a plain timeout")
	require.NotNil(t, ie.LastHealth)
	assert.Equal(t, StatusUnknown, ie.LastHealth.Status)
}

func TestWaitUntilHealthyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := &scriptedChecker{results: []HealthCheckResult{unhealthy()}}
	_, err := WaitUntilHealthy(ctx, ComponentFlux, checker, WaitOptions{
		Interval: time.Millisecond,
		Timeout:  time.Second,
	}, testLogger())
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCancelled, ie.Kind)
}
