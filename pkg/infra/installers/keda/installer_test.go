package keda

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type noopRunner struct{}

func (noopRunner) Run(context.Context, string, ...string) (string, error) { return "", nil }

func TestInstallFreshDeploy(t *testing.T) {
	fake := cluster.NewFake()
	inst := New(fake, testLogger())

	m := infra.NewRollbackManager(infra.ComponentKeda, testLogger())
	rb := infra.NewRollbackContext(m, fake, noopRunner{})

	require.NoError(t, inst.Install(context.Background(), rb))
	assert.Equal(t, []string{
		"EnsureNamespace(raibid-keda)",
		"HelmRepoAdd(kedacore, https://kedacore.github.io/charts)",
		"HelmUpgradeInstall(raibid-keda/raibid-keda)",
	}, fake.Calls)
	assert.Equal(t, 2, m.Len())
}

func TestValidateRequiresEveryCRD(t *testing.T) {
	fake := cluster.NewFake()
	inst := New(fake, testLogger())

	// no CRDs registered at all
	err := inst.Validate(context.Background())
	require.Error(t, err)
	assert.True(t, infra.IsTransient(err), "the operator may still be registering them")
	assert.Contains(t, err.Error(), "scaledjobs.keda.sh")

	// one missing is still a failure
	fake.CRDs["scaledjobs.keda.sh"] = true
	fake.CRDs["scaledobjects.keda.sh"] = true
	err = inst.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggerauthentications.keda.sh")

	fake.CRDs["triggerauthentications.keda.sh"] = true
	assert.NoError(t, inst.Validate(context.Background()))
}

func TestNoCredentials(t *testing.T) {
	creds, err := New(cluster.NewFake(), testLogger()).Credentials(context.Background())
	require.NoError(t, err)
	assert.Nil(t, creds, "keda exposes no service account to persist")
}

func TestUninstall(t *testing.T) {
	fake := cluster.NewFake()
	require.NoError(t, fake.HelmUpgradeInstall(context.Background(), cluster.Chart{
		Namespace: Namespace,
		Release:   ReleaseName,
	}))

	inst := New(fake, testLogger())
	require.NoError(t, inst.Uninstall(context.Background()))

	installed, err := inst.Installed(context.Background())
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestUninstallSkipsAbsentNamespace(t *testing.T) {
	fake := cluster.NewFake()
	inst := New(fake, testLogger())

	require.NoError(t, inst.Uninstall(context.Background()))
	assert.Empty(t, fake.Calls, "nothing deployed means nothing to tear down")
}
