package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/blang/semver/v4"
)

// -----------------------------------------------------------------------------
// Fake Client
// -----------------------------------------------------------------------------

// Fake is an in-memory Client for unit tests. Zero value is usable; fields
// configure the simulated cluster and Calls records every mutating
// invocation in order.
type Fake struct {
	mu sync.Mutex

	// simulated state
	Version     semver.Version
	ReadyNodes  int
	TotalNodes  int
	Namespaces  map[string]bool
	Releases    map[string]bool // key: namespace/release
	CRDs        map[string]bool
	Running     map[string]int // running pods per namespace
	Total       map[string]int // total pods per namespace
	Waiting     map[string][]string
	APIDown     bool
	FailUpgrade error
	FailRepoAdd error

	// Calls records mutating operations, e.g. "EnsureNamespace(raibid-redis)".
	Calls []string
}

// NewFake provides a Fake with a single ready node and empty state.
func NewFake() *Fake {
	return &Fake{
		Version:    semver.MustParse("1.31.4"),
		ReadyNodes: 1,
		TotalNodes: 1,
		Namespaces: make(map[string]bool),
		Releases:   make(map[string]bool),
		CRDs:       make(map[string]bool),
		Running:    make(map[string]int),
		Total:      make(map[string]int),
		Waiting:    make(map[string][]string),
	}
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

func (f *Fake) APIReachable(context.Context) error {
	if f.APIDown {
		return fmt.Errorf("api server unreachable")
	}
	return nil
}

func (f *Fake) ServerVersion(context.Context) (semver.Version, error) {
	if f.APIDown {
		return semver.Version{}, fmt.Errorf("api server unreachable")
	}
	return f.Version, nil
}

func (f *Fake) NodesReady(context.Context) (int, int, error) {
	return f.ReadyNodes, f.TotalNodes, nil
}

func (f *Fake) EnsureNamespace(_ context.Context, name string) (bool, error) {
	f.record("EnsureNamespace(%s)", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Namespaces[name] {
		return false, nil
	}
	f.Namespaces[name] = true
	return true, nil
}

func (f *Fake) NamespaceExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Namespaces[name], nil
}

func (f *Fake) DeleteNamespace(_ context.Context, name string) error {
	f.record("DeleteNamespace(%s)", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Namespaces, name)
	return nil
}

func (f *Fake) PodsRunning(_ context.Context, namespace string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[namespace], f.Total[namespace], nil
}

func (f *Fake) WorkloadsAvailable(_ context.Context, namespace string) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	waiting := f.Waiting[namespace]
	return waiting, len(waiting) == 0, nil
}

func (f *Fake) CRDEstablished(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CRDs[name], nil
}

func (f *Fake) HelmRepoAdd(_ context.Context, name, url string) error {
	f.record("HelmRepoAdd(%s, %s)", name, url)
	return f.FailRepoAdd
}

func (f *Fake) HelmUpgradeInstall(_ context.Context, chart Chart) error {
	f.record("HelmUpgradeInstall(%s/%s)", chart.Namespace, chart.Release)
	if f.FailUpgrade != nil {
		return f.FailUpgrade
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Namespaces[chart.Namespace] = true
	f.Releases[chart.Namespace+"/"+chart.Release] = true
	return nil
}

func (f *Fake) HelmUninstall(_ context.Context, namespace, release string) error {
	f.record("HelmUninstall(%s/%s)", namespace, release)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Releases, namespace+"/"+release)
	return nil
}

func (f *Fake) HelmReleaseDeployed(_ context.Context, namespace, release string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Releases[namespace+"/"+release], nil
}
