package cluster

import (
	"context"
	"sync"

	"github.com/blang/semver/v4"
	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Lazy Client
// -----------------------------------------------------------------------------

// Lazy defers building the real Client until first use. Needed because a
// 'setup all' run starts before k3s exists: the kubeconfig only appears once
// the k3s installer has finished, and every later component shares this one
// handle.
type Lazy struct {
	kubeconfig string
	logger     *logrus.Entry

	mu     sync.Mutex
	client Client
}

// NewLazy provides a Client bound to a kubeconfig path that may not exist yet.
func NewLazy(kubeconfig string, logger *logrus.Entry) *Lazy {
	return &Lazy{kubeconfig: kubeconfig, logger: logger}
}

func (l *Lazy) get() (Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	c, err := NewForKubeconfig(l.kubeconfig, l.logger)
	if err != nil {
		return nil, err
	}
	l.client = c
	return c, nil
}

func (l *Lazy) APIReachable(ctx context.Context) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.APIReachable(ctx)
}

func (l *Lazy) ServerVersion(ctx context.Context) (semver.Version, error) {
	c, err := l.get()
	if err != nil {
		return semver.Version{}, err
	}
	return c.ServerVersion(ctx)
}

func (l *Lazy) NodesReady(ctx context.Context) (int, int, error) {
	c, err := l.get()
	if err != nil {
		return 0, 0, err
	}
	return c.NodesReady(ctx)
}

func (l *Lazy) EnsureNamespace(ctx context.Context, name string) (bool, error) {
	c, err := l.get()
	if err != nil {
		return false, err
	}
	return c.EnsureNamespace(ctx, name)
}

func (l *Lazy) NamespaceExists(ctx context.Context, name string) (bool, error) {
	c, err := l.get()
	if err != nil {
		return false, err
	}
	return c.NamespaceExists(ctx, name)
}

func (l *Lazy) DeleteNamespace(ctx context.Context, name string) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.DeleteNamespace(ctx, name)
}

func (l *Lazy) PodsRunning(ctx context.Context, namespace string) (int, int, error) {
	c, err := l.get()
	if err != nil {
		return 0, 0, err
	}
	return c.PodsRunning(ctx, namespace)
}

func (l *Lazy) WorkloadsAvailable(ctx context.Context, namespace string) ([]string, bool, error) {
	c, err := l.get()
	if err != nil {
		return nil, false, err
	}
	return c.WorkloadsAvailable(ctx, namespace)
}

func (l *Lazy) CRDEstablished(ctx context.Context, name string) (bool, error) {
	c, err := l.get()
	if err != nil {
		return false, err
	}
	return c.CRDEstablished(ctx, name)
}

func (l *Lazy) HelmRepoAdd(ctx context.Context, name, url string) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.HelmRepoAdd(ctx, name, url)
}

func (l *Lazy) HelmUpgradeInstall(ctx context.Context, chart Chart) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.HelmUpgradeInstall(ctx, chart)
}

func (l *Lazy) HelmUninstall(ctx context.Context, namespace, release string) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.HelmUninstall(ctx, namespace, release)
}

func (l *Lazy) HelmReleaseDeployed(ctx context.Context, namespace, release string) (bool, error) {
	c, err := l.get()
	if err != nil {
		return false, err
	}
	return c.HelmReleaseDeployed(ctx, namespace, release)
}
