package infra

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// -----------------------------------------------------------------------------
// Public Types - Rollback Manager
// -----------------------------------------------------------------------------

// RollbackAction undoes one durable side effect of an install attempt.
type RollbackAction func(ctx context.Context) error

type rollbackEntry struct {
	description string
	action      RollbackAction
}

// RollbackManager owns the compensating actions for a single component's
// install attempt. Actions run in strict reverse-of-registration order on
// Rollback; Commit discards them. Exactly one of the two is expected per
// install attempt, and after Commit a Rollback is a no-op.
type RollbackManager struct {
	component Component
	logger    *logrus.Entry

	mu        sync.Mutex
	entries   []rollbackEntry
	committed bool
}

// NewRollbackManager provides a RollbackManager scoped to one component's
// install attempt.
func NewRollbackManager(component Component, logger *logrus.Entry) *RollbackManager {
	return &RollbackManager{
		component: component,
		logger:    logger.WithField("component", component),
	}
}

// Add registers a compensating action. Registration order matters: later
// actions undo later sub-steps and therefore run first on rollback.
func (m *RollbackManager) Add(description string, action RollbackAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, rollbackEntry{description: description, action: action})
}

// Len reports the number of pending actions.
func (m *RollbackManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Commit discards all pending actions without executing them.
func (m *RollbackManager) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = true
	m.entries = nil
}

// Rollback executes all pending actions in LIFO order. Cleanup is best
// effort: a failing action is logged and does not prevent the remaining
// actions from running. The returned error aggregates every action that
// failed, or is nil when all succeeded.
func (m *RollbackManager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	entries := m.entries
	m.entries = nil
	committed := m.committed
	m.mu.Unlock()

	if committed || len(entries) == 0 {
		return nil
	}

	var failures []error
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		m.logger.Infof("rolling back: %s", entry.description)
		if err := entry.action(ctx); err != nil {
			m.logger.WithError(err).Errorf("rollback action failed: %s", entry.description)
			failures = append(failures, fmt.Errorf("%s: %w", entry.description, err))
			continue
		}
		m.logger.Debugf("rolled back: %s", entry.description)
	}
	return utilerrors.NewAggregate(failures)
}

// -----------------------------------------------------------------------------
// Public Types - Rollback Context
// -----------------------------------------------------------------------------

// ResourceDeleter is the slice of cluster operations the rollback ledger
// needs to generate undo actions.
type ResourceDeleter interface {
	DeleteNamespace(ctx context.Context, name string) error
	HelmUninstall(ctx context.Context, namespace, release string) error
}

// CommandRunner executes a host command, used to undo systemd units and to
// run component uninstall scripts.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// RollbackContext is a resource ledger layered over a RollbackManager: the
// installers record what they created, the context knows how to undo each
// resource kind. Recording is idempotent so that a retried install sub-step
// does not stack duplicate undo actions.
type RollbackContext struct {
	manager *RollbackManager
	cluster ResourceDeleter
	runner  CommandRunner

	recorded map[string]bool
}

// NewRollbackContext provides a ledger that generates undo actions onto
// manager using the given cluster and host command access.
func NewRollbackContext(manager *RollbackManager, cluster ResourceDeleter, runner CommandRunner) *RollbackContext {
	return &RollbackContext{
		manager:  manager,
		cluster:  cluster,
		runner:   runner,
		recorded: make(map[string]bool),
	}
}

// Manager exposes the underlying RollbackManager for custom undo actions
// that have no ledger shorthand.
func (c *RollbackContext) Manager() *RollbackManager {
	return c.manager
}

func (c *RollbackContext) record(key string) bool {
	if c.recorded[key] {
		return false
	}
	c.recorded[key] = true
	return true
}

// RecordFile registers deletion of a created file.
func (c *RollbackContext) RecordFile(path string) {
	if !c.record("file:" + path) {
		return
	}
	c.manager.Add(fmt.Sprintf("remove file %s", path), func(context.Context) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// RecordDirectory registers removal of a created directory tree.
func (c *RollbackContext) RecordDirectory(path string) {
	if !c.record("dir:" + path) {
		return
	}
	c.manager.Add(fmt.Sprintf("remove directory %s", path), func(context.Context) error {
		return os.RemoveAll(path)
	})
}

// RecordNamespace registers deletion of a created namespace.
func (c *RollbackContext) RecordNamespace(name string) {
	if !c.record("namespace:" + name) {
		return
	}
	c.manager.Add(fmt.Sprintf("delete namespace %s", name), func(ctx context.Context) error {
		return c.cluster.DeleteNamespace(ctx, name)
	})
}

// RecordHelmRelease registers uninstall of a deployed Helm release.
func (c *RollbackContext) RecordHelmRelease(namespace, release string) {
	if !c.record("release:" + namespace + "/" + release) {
		return
	}
	c.manager.Add(fmt.Sprintf("uninstall release %s/%s", namespace, release), func(ctx context.Context) error {
		return c.cluster.HelmUninstall(ctx, namespace, release)
	})
}

// RecordSystemdUnit registers stop-and-disable of a created systemd unit.
func (c *RollbackContext) RecordSystemdUnit(unit string) {
	if !c.record("unit:" + unit) {
		return
	}
	c.manager.Add(fmt.Sprintf("stop systemd unit %s", unit), func(ctx context.Context) error {
		if _, err := c.runner.Run(ctx, "systemctl", "stop", unit); err != nil {
			return err
		}
		_, err := c.runner.Run(ctx, "systemctl", "disable", unit)
		return err
	})
}

// RecordUninstallScript registers execution of a component-provided
// uninstall script (e.g. the one the k3s installer drops on the host).
func (c *RollbackContext) RecordUninstallScript(path string) {
	if !c.record("script:" + path) {
		return
	}
	c.manager.Add(fmt.Sprintf("run uninstall script %s", path), func(ctx context.Context) error {
		_, err := c.runner.Run(ctx, "sh", path)
		return err
	})
}
