package cluster

import (
	"context"
	"fmt"

	"github.com/raibid-labs/raibid/pkg/infra"
)

// -----------------------------------------------------------------------------
// Health Checkers
// -----------------------------------------------------------------------------

// ClusterChecker assesses cluster-level health: API server reachability,
// node readiness, and the system namespace's pods.
type ClusterChecker struct {
	Client          Client
	SystemNamespace string
}

// NewClusterChecker provides a checker for the cluster itself. k3s runs its
// system workloads in kube-system like any other distribution.
func NewClusterChecker(client Client) *ClusterChecker {
	return &ClusterChecker{Client: client, SystemNamespace: "kube-system"}
}

func (c *ClusterChecker) Check(ctx context.Context) infra.HealthCheckResult {
	if err := c.Client.APIReachable(ctx); err != nil {
		return infra.HealthCheckResult{
			Status:  infra.StatusUnknown,
			Message: fmt.Sprintf("api server unreachable: %v", err),
		}
	}
	checks := []infra.SubCheck{
		{Name: "api-server-reachable", Passed: true, Message: "api server responded"},
	}

	ready, total, err := c.Client.NodesReady(ctx)
	switch {
	case err != nil:
		checks = append(checks, infra.SubCheck{Name: "nodes-ready", Message: err.Error()})
	case total == 0:
		checks = append(checks, infra.SubCheck{Name: "nodes-ready", Message: "no nodes registered"})
	case ready < total:
		checks = append(checks, infra.SubCheck{Name: "nodes-ready", Message: fmt.Sprintf("%d/%d nodes ready", ready, total)})
	default:
		checks = append(checks, infra.SubCheck{Name: "nodes-ready", Passed: true, Message: fmt.Sprintf("%d/%d nodes ready", ready, total)})
	}

	running, totalPods, err := c.Client.PodsRunning(ctx, c.SystemNamespace)
	switch {
	case err != nil:
		checks = append(checks, infra.SubCheck{Name: "system-pods-running", Message: err.Error()})
	case totalPods == 0:
		checks = append(checks, infra.SubCheck{Name: "system-pods-running", Message: "no system pods scheduled yet"})
	case running < totalPods:
		checks = append(checks, infra.SubCheck{Name: "system-pods-running", Message: fmt.Sprintf("%d/%d system pods running", running, totalPods)})
	default:
		checks = append(checks, infra.SubCheck{Name: "system-pods-running", Passed: true, Message: fmt.Sprintf("%d/%d system pods running", running, totalPods)})
	}

	return infra.Summarize(checks)
}

// ReleaseChecker assesses a deployed Helm release: the release record
// itself, its pods, and its workloads' declared readiness.
type ReleaseChecker struct {
	Client    Client
	Namespace string
	Release   string
}

// NewReleaseChecker provides a checker for one Helm release.
func NewReleaseChecker(client Client, namespace, release string) *ReleaseChecker {
	return &ReleaseChecker{Client: client, Namespace: namespace, Release: release}
}

func (c *ReleaseChecker) Check(ctx context.Context) infra.HealthCheckResult {
	deployed, err := c.Client.HelmReleaseDeployed(ctx, c.Namespace, c.Release)
	if err != nil {
		return infra.HealthCheckResult{
			Status:  infra.StatusUnknown,
			Message: fmt.Sprintf("could not query release %s/%s: %v", c.Namespace, c.Release, err),
		}
	}
	checks := []infra.SubCheck{{
		Name:    "release-deployed",
		Passed:  deployed,
		Message: fmt.Sprintf("release %s/%s deployed=%t", c.Namespace, c.Release, deployed),
	}}

	running, total, err := c.Client.PodsRunning(ctx, c.Namespace)
	switch {
	case err != nil:
		checks = append(checks, infra.SubCheck{Name: "pods-running", Message: err.Error()})
	case total == 0:
		checks = append(checks, infra.SubCheck{Name: "pods-running", Message: "no pods scheduled yet"})
	case running < total:
		checks = append(checks, infra.SubCheck{Name: "pods-running", Message: fmt.Sprintf("%d/%d pods running", running, total)})
	default:
		checks = append(checks, infra.SubCheck{Name: "pods-running", Passed: true, Message: fmt.Sprintf("%d/%d pods running", running, total)})
	}

	waiting, ok, err := c.Client.WorkloadsAvailable(ctx, c.Namespace)
	switch {
	case err != nil:
		checks = append(checks, infra.SubCheck{Name: "workloads-available", Message: err.Error()})
	case !ok:
		checks = append(checks, infra.SubCheck{Name: "workloads-available", Message: fmt.Sprintf("waiting on: %v", waiting)})
	default:
		checks = append(checks, infra.SubCheck{Name: "workloads-available", Passed: true, Message: "all workloads available"})
	}

	return infra.Summarize(checks)
}
