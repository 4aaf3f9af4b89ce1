package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Public Types - Installer
// -----------------------------------------------------------------------------

// Installer is implemented once per component. Implementations perform the
// component-specific work; the shared lifecycle (pre-flight, retries,
// readiness wait, validation, commit-or-rollback) lives in Runner.
type Installer interface {
	// Component is the unit this installer deploys.
	Component() Component

	// Requirements describe what the host must provide before Install.
	Requirements() SystemRequirements

	// Install performs the deploy action. Every sub-step that creates a
	// durable resource must record it on rb before proceeding, so a
	// failure mid-way leaves a complete undo trail. Install must be safe
	// to re-run against an already-installed component.
	Install(ctx context.Context, rb *RollbackContext) error

	// Checker polls the component's readiness after Install.
	Checker() HealthChecker

	// ReadyTimeout bounds the readiness wait.
	ReadyTimeout() time.Duration

	// Validate asserts component-specific post-conditions beyond
	// "pods are up".
	Validate(ctx context.Context) error

	// Credentials reports connection material to persist on success, or
	// nil when the component has none.
	Credentials(ctx context.Context) (*Credentials, error)

	// Installed reports whether the component is already present, used
	// by status and teardown.
	Installed(ctx context.Context) (bool, error)

	// Uninstall removes the component. Missing state is tolerated.
	Uninstall(ctx context.Context) error
}

// rollbackTimeout bounds cleanup after a failed or interrupted install.
const rollbackTimeout = 5 * time.Minute

// InstallResult summarizes a successful install.
type InstallResult struct {
	Component       Component
	RunID           string
	StartedAt       time.Time
	Duration        time.Duration
	Health          HealthCheckResult
	CredentialsPath string
}

// -----------------------------------------------------------------------------
// Public Types - Lifecycle Runner
// -----------------------------------------------------------------------------

// Runner drives every installer through the same five-phase lifecycle:
// pre-flight, install, wait-for-ready, validate, then commit or rollback.
// It owns the RollbackManager for the attempt and guarantees that exactly
// one of commit/rollback happens on every exit path, including panics.
type Runner struct {
	validator *Validator
	cluster   ResourceDeleter
	commands  CommandRunner
	logger    *logrus.Entry

	pollInterval time.Duration
	installRetry RetryConfig
}

// NewRunner provides a lifecycle runner. cluster and commands feed the
// rollback ledger's undo actions.
func NewRunner(validator *Validator, cluster ResourceDeleter, commands CommandRunner, logger *logrus.Entry) *Runner {
	return &Runner{
		validator:    validator,
		cluster:      cluster,
		commands:     commands,
		logger:       logger,
		pollInterval: 3 * time.Second,
		installRetry: SlowRetry(),
	}
}

// WithPollInterval overrides the health poll interval, mainly for tests.
func (r *Runner) WithPollInterval(d time.Duration) *Runner {
	r.pollInterval = d
	return r
}

// WithInstallRetry overrides the retry preset wrapping the install phase.
func (r *Runner) WithInstallRetry(cfg RetryConfig) *Runner {
	r.installRetry = cfg
	return r
}

// Run executes the full lifecycle for one component. On failure the
// original error propagates; rollback failures are logged as secondary
// diagnostics, never masking the trigger.
func (r *Runner) Run(ctx context.Context, inst Installer) (*InstallResult, error) {
	component := inst.Component()
	logger := r.logger.WithField("component", component)
	result := &InstallResult{
		Component: component,
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	// Phase 1: pre-flight. Nothing to roll back on failure.
	logger.Info("running pre-flight checks")
	if err := r.validator.Validate(ctx, component, inst.Requirements()); err != nil {
		return nil, err
	}

	manager := NewRollbackManager(component, logger)
	rb := NewRollbackContext(manager, r.cluster, r.commands)

	err := r.runPhases(ctx, inst, rb, result, logger)
	if err != nil {
		// undo actions run detached from the trigger: an interrupt that
		// cancelled the install must not also cancel its own cleanup
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := manager.Rollback(rbCtx); rbErr != nil {
			logger.WithError(rbErr).Error("rollback completed with failures")
		}
		return nil, err
	}

	manager.Commit()
	result.Duration = time.Since(result.StartedAt)
	logger.WithField("duration", result.Duration.Round(time.Second)).Info("install complete")
	return result, nil
}

// runPhases executes install, wait-for-ready, validation and credential
// persistence. Split out so Run's rollback handling covers every exit path,
// including a panic inside a phase.
func (r *Runner) runPhases(ctx context.Context, inst Installer, rb *RollbackContext, result *InstallResult, logger *logrus.Entry) (err error) {
	component := inst.Component()

	defer func() {
		if p := recover(); p != nil {
			err = Fatal(ErrInstallation, component, PhaseInstallation,
				fmt.Sprintf("installer panicked: %v", p),
				"this is a bug, please report it with the log output",
				nil)
		}
	}()

	// Phase 2: install, retried with the slow preset since cluster
	// mutations are expected to be flaky. Rollback recording is
	// idempotent, so a retried sub-step does not stack duplicate undos.
	logger.Info("installing")
	if err := Retry(ctx, r.installRetry, component, PhaseInstallation, "install", func(ctx context.Context) error {
		return inst.Install(ctx, rb)
	}); err != nil {
		return attribute(err, component, PhaseInstallation)
	}

	// Phase 3: wait for ready.
	logger.Info("waiting for readiness")
	health, err := WaitUntilHealthy(ctx, component, inst.Checker(), WaitOptions{
		Interval: r.pollInterval,
		Timeout:  inst.ReadyTimeout(),
	}, logger)
	if err != nil {
		return err
	}
	result.Health = health

	// Phase 4: component-specific validation.
	logger.Info("validating")
	if err := inst.Validate(ctx); err != nil {
		return attribute(err, component, PhaseValidation)
	}

	// Phase 5 (post-install): persist credentials before commit so a
	// failed write still unwinds cleanly.
	creds, err := inst.Credentials(ctx)
	if err != nil {
		return attribute(err, component, PhasePostInstall)
	}
	if creds != nil {
		path, err := WriteCredentials(creds)
		if err != nil {
			return Fatal(ErrInstallation, component, PhasePostInstall,
				fmt.Sprintf("could not persist credentials: %v", err),
				"check permissions on the raibid home directory",
				err)
		}
		result.CredentialsPath = path
		logger.Infof("credentials written to %s", path)
	}

	return nil
}

// attribute ensures errors crossing a phase boundary carry component and
// phase; errors already classified pass through untouched.
func attribute(err error, component Component, phase InstallPhase) error {
	if err == nil {
		return nil
	}
	if _, ok := AsInfraError(err); ok {
		return err
	}
	return Fatal(ErrInstallation, component, phase,
		err.Error(),
		"re-run with --log-level debug for details",
		err)
}
