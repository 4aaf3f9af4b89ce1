//go:build integration_tests
// +build integration_tests

package integration

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Testing Vars & Consts
// -----------------------------------------------------------------------------

var (
	// ctx is a common context that can be used between tests
	ctx = context.Background()
)

// kubeconfigPath resolves the kubeconfig the suite runs against, skipping the
// test when none is configured. The suite expects a live (ideally k3s)
// cluster and never provisions one itself.
func kubeconfigPath(t *testing.T) string {
	t.Helper()
	if path := os.Getenv("RAIBID_TEST_KUBECONFIG"); path != "" {
		return path
	}
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return path
	}
	t.Skip("no RAIBID_TEST_KUBECONFIG or KUBECONFIG set, skipping")
	return ""
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
