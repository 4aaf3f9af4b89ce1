package infra

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Test Fakes - Installer
// -----------------------------------------------------------------------------

type fakeInstallerConfig struct {
	installErr   error
	panicInstall bool
	validateErr  error
	checker      HealthChecker
	creds        *Credentials
	credsErr     error
	namespace    string
}

type fakeComponentInstaller struct {
	cfg          fakeInstallerConfig
	installCalls int
}

func (f *fakeComponentInstaller) Component() Component             { return ComponentRedis }
func (f *fakeComponentInstaller) Requirements() SystemRequirements { return SystemRequirements{} }
func (f *fakeComponentInstaller) ReadyTimeout() time.Duration      { return 100 * time.Millisecond }
func (f *fakeComponentInstaller) Uninstall(context.Context) error  { return nil }

func (f *fakeComponentInstaller) Installed(context.Context) (bool, error) { return false, nil }

func (f *fakeComponentInstaller) Install(_ context.Context, rb *RollbackContext) error {
	f.installCalls++
	if f.cfg.namespace != "" {
		rb.RecordNamespace(f.cfg.namespace)
	}
	if f.cfg.panicInstall {
		panic("nil map write in values rendering")
	}
	return f.cfg.installErr
}

func (f *fakeComponentInstaller) Checker() HealthChecker {
	if f.cfg.checker != nil {
		return f.cfg.checker
	}
	return &scriptedChecker{results: []HealthCheckResult{healthy()}}
}

func (f *fakeComponentInstaller) Validate(context.Context) error { return f.cfg.validateErr }

func (f *fakeComponentInstaller) Credentials(context.Context) (*Credentials, error) {
	return f.cfg.creds, f.cfg.credsErr
}

func newTestRunner(deleter *fakeDeleter) *Runner {
	return NewRunner(passingValidator(), deleter, &fakeCommandRunner{}, testLogger()).
		WithPollInterval(5 * time.Millisecond).
		WithInstallRetry(NoRetry())
}

// -----------------------------------------------------------------------------
// Runner Lifecycle
// -----------------------------------------------------------------------------

func TestRunnerCommitsOnSuccess(t *testing.T) {
	t.Setenv("RAIBID_HOME", t.TempDir())

	deleter := &fakeDeleter{}
	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{
		namespace: "raibid-redis",
		creds:     &Credentials{Component: ComponentRedis, URL: "redis://:pw@127.0.0.1:30379"},
	}}

	result, err := newTestRunner(deleter).Run(context.Background(), inst)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, ComponentRedis, result.Component)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, StatusHealthy, result.Health.Status)
	assert.NotEmpty(t, result.CredentialsPath)
	_, statErr := os.Stat(result.CredentialsPath)
	assert.NoError(t, statErr)

	// commit means no undo action ran
	assert.Empty(t, deleter.deletedNamespaces)
	assert.Empty(t, deleter.uninstalled)
}

func TestRunnerSkipsCredentialsWhenNil(t *testing.T) {
	t.Setenv("RAIBID_HOME", t.TempDir())

	result, err := newTestRunner(&fakeDeleter{}).Run(context.Background(), &fakeComponentInstaller{})
	require.NoError(t, err)
	assert.Empty(t, result.CredentialsPath)
}

func TestRunnerRollsBackOnInstallFailure(t *testing.T) {
	t.Setenv("RAIBID_HOME", t.TempDir())

	deleter := &fakeDeleter{}
	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{
		namespace:  "raibid-redis",
		installErr: Fatal(ErrInstallation, ComponentRedis, PhaseInstallation, "chart rendering failed", "check the values", nil),
	}}

	result, err := newTestRunner(deleter).Run(context.Background(), inst)
	require.Error(t, err)
	assert.Nil(t, result)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, PhaseInstallation, ie.Phase)
	assert.Contains(t, ie.Reason, "chart rendering failed")

	// everything the installer recorded before failing was undone
	assert.Equal(t, []string{"raibid-redis"}, deleter.deletedNamespaces)
}

func TestRunnerRollsBackOnReadinessTimeout(t *testing.T) {
	deleter := &fakeDeleter{}
	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{
		namespace: "raibid-gitea",
		checker:   &scriptedChecker{results: []HealthCheckResult{unhealthy()}},
	}}

	_, err := newTestRunner(deleter).Run(context.Background(), inst)
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrTimeout, ie.Kind)
	assert.Equal(t, PhaseBootstrap, ie.Phase)
	assert.Equal(t, []string{"raibid-gitea"}, deleter.deletedNamespaces)
}

func TestRunnerAttributesValidationFailures(t *testing.T) {
	deleter := &fakeDeleter{}
	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{
		namespace:   "raibid-redis",
		validateErr: errors.New("consumer group missing"),
	}}

	_, err := newTestRunner(deleter).Run(context.Background(), inst)
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok, "raw validation errors must be classified")
	assert.Equal(t, PhaseValidation, ie.Phase)
	assert.Contains(t, ie.Reason, "consumer group missing")
	assert.Equal(t, []string{"raibid-redis"}, deleter.deletedNamespaces)
}

func TestRunnerRecoversInstallerPanics(t *testing.T) {
	deleter := &fakeDeleter{}
	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{
		namespace:    "raibid-redis",
		panicInstall: true,
	}}

	var result *InstallResult
	var err error
	require.NotPanics(t, func() {
		result, err = newTestRunner(deleter).Run(context.Background(), inst)
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "installer panicked")
	assert.Equal(t, []string{"raibid-redis"}, deleter.deletedNamespaces)
}

func TestRunnerCredentialsFailureRollsBack(t *testing.T) {
	deleter := &fakeDeleter{}
	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{
		namespace: "raibid-redis",
		credsErr:  errors.New("admin secret not found"),
	}}

	_, err := newTestRunner(deleter).Run(context.Background(), inst)
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, PhasePostInstall, ie.Phase)
	assert.Equal(t, []string{"raibid-redis"}, deleter.deletedNamespaces)
}

func TestRunnerRollbackRunsDetachedFromCancelledContext(t *testing.T) {
	deleter := &ctxRecordingDeleter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// an interrupt lands mid-install, after the namespace was created
	inst := &cancellingInstaller{cancel: cancel}
	runner := NewRunner(passingValidator(), deleter, &fakeCommandRunner{}, testLogger()).
		WithPollInterval(5 * time.Millisecond).
		WithInstallRetry(NoRetry())

	_, err := runner.Run(ctx, inst)
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCancelled, ie.Kind)

	// the partial install was still undone, and the undo actions saw a
	// live context so real cluster calls could have succeeded
	assert.Equal(t, []string{"raibid-redis"}, deleter.deletedNamespaces)
	require.Len(t, deleter.ctxErrs, 1)
	assert.NoError(t, deleter.ctxErrs[0])
}

// cancellingInstaller simulates an interrupt arriving between creating a
// resource and finishing the install.
type cancellingInstaller struct {
	fakeComponentInstaller
	cancel context.CancelFunc
}

func (c *cancellingInstaller) Install(_ context.Context, rb *RollbackContext) error {
	rb.RecordNamespace("raibid-redis")
	c.cancel()
	return Cancelled(ComponentRedis, PhaseInstallation, context.Canceled)
}

// ctxRecordingDeleter notes the context state each undo call observed.
type ctxRecordingDeleter struct {
	fakeDeleter
	ctxErrs []error
}

func (d *ctxRecordingDeleter) DeleteNamespace(ctx context.Context, name string) error {
	d.ctxErrs = append(d.ctxErrs, ctx.Err())
	return d.fakeDeleter.DeleteNamespace(ctx, name)
}

func TestRunnerPreflightFailureSkipsInstall(t *testing.T) {
	validator := passingValidator()
	validator.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	deleter := &fakeDeleter{}
	runner := NewRunner(validator, deleter, &fakeCommandRunner{}, testLogger()).
		WithInstallRetry(NoRetry())

	inst := &fakeComponentInstaller{cfg: fakeInstallerConfig{namespace: "raibid-redis"}}
	// Requirements on the fake are empty, so force one in via a wrapper
	_, err := runner.Run(context.Background(), requireHelm{inst})
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrPrerequisiteMissing, ie.Kind)
	assert.Equal(t, 0, inst.installCalls, "install must not run when pre-flight fails")
	assert.Empty(t, deleter.deletedNamespaces, "nothing to roll back before install")
}

func TestRunnerRetriesTransientInstallFailures(t *testing.T) {
	t.Setenv("RAIBID_HOME", t.TempDir())

	deleter := &fakeDeleter{}
	inst := &flakyInstaller{failures: 2}

	runner := newTestRunner(deleter).WithInstallRetry(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})
	_, err := runner.Run(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, 3, inst.calls)
	assert.Empty(t, deleter.deletedNamespaces)
}

// requireHelm overlays a helm requirement on an otherwise empty fake.
type requireHelm struct {
	*fakeComponentInstaller
}

func (requireHelm) Requirements() SystemRequirements {
	return SystemRequirements{RequiredExecutables: []string{"helm"}}
}

// flakyInstaller fails its first N install calls with a transient error. A
// retried install records the same namespace every attempt, exercising the
// rollback ledger's dedupe.
type flakyInstaller struct {
	fakeComponentInstaller
	failures int
	calls    int
}

func (f *flakyInstaller) Install(_ context.Context, rb *RollbackContext) error {
	f.calls++
	rb.RecordNamespace("raibid-redis")
	if f.calls <= f.failures {
		return Transient(ErrNetwork, ComponentRedis, PhaseInstallation, "cluster API hiccup", "retry", nil)
	}
	return nil
}
