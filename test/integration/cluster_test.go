//go:build integration_tests
// +build integration_tests

package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

func TestClusterClientAgainstLiveCluster(t *testing.T) {
	client, err := cluster.NewForKubeconfig(kubeconfigPath(t), testLogger())
	require.NoError(t, err)

	t.Log("verifying the API server answers")
	require.NoError(t, client.APIReachable(ctx))

	version, err := client.ServerVersion(ctx)
	require.NoError(t, err)
	t.Logf("server version %s", version)
	assert.GreaterOrEqual(t, version.Major, uint64(1))

	ready, total, err := client.NodesReady(ctx)
	require.NoError(t, err)
	t.Logf("%d/%d nodes ready", ready, total)
	assert.Greater(t, ready, 0)
}

func TestNamespaceLifecycleAgainstLiveCluster(t *testing.T) {
	client, err := cluster.NewForKubeconfig(kubeconfigPath(t), testLogger())
	require.NoError(t, err)

	namespace := "raibid-test-" + uuid.NewString()[:8]
	t.Logf("creating namespace %s", namespace)

	created, err := client.EnsureNamespace(ctx, namespace)
	require.NoError(t, err)
	require.True(t, created)
	t.Cleanup(func() {
		assert.NoError(t, client.DeleteNamespace(ctx, namespace))
	})

	created, err = client.EnsureNamespace(ctx, namespace)
	require.NoError(t, err)
	assert.False(t, created, "re-ensuring must report not-created")

	exists, err := client.NamespaceExists(ctx, namespace)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClusterCheckerAgainstLiveCluster(t *testing.T) {
	client, err := cluster.NewForKubeconfig(kubeconfigPath(t), testLogger())
	require.NoError(t, err)

	checker := cluster.NewClusterChecker(client)
	result, err := infra.WaitUntilHealthy(ctx, infra.ComponentK3s, checker, infra.WaitOptions{
		Interval: 3 * time.Second,
		Timeout:  time.Minute,
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, infra.StatusHealthy, result.Status)
	for _, check := range result.Checks {
		t.Logf("%s: %s", check.Name, check.Message)
	}
}
