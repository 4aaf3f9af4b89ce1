package keda

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// KEDA Installer
// -----------------------------------------------------------------------------

const (
	// Namespace is where the KEDA release is deployed.
	Namespace = "raibid-keda"

	// ReleaseName is the Helm release name.
	ReleaseName = "raibid-keda"

	// HelmRepoName and HelmRepoURL identify the chart repository.
	HelmRepoName = "kedacore"
	HelmRepoURL  = "https://kedacore.github.io/charts"

	// ChartName is the chart reference installed from the repo.
	ChartName = "kedacore/keda"
)

// requiredCRDs are the definitions KEDA must register before ScaledJobs can
// drive agent scaling; their absence after deploy means the install is
// incomplete even when every pod is Running.
var requiredCRDs = []string{
	"scaledjobs.keda.sh",
	"scaledobjects.keda.sh",
	"triggerauthentications.keda.sh",
}

// Installer deploys the KEDA autoscaler that scales build agents against
// the Redis Stream queue depth.
type Installer struct {
	cluster      cluster.Client
	logger       *logrus.Entry
	chartVersion string
}

// New provides a KEDA installer.
func New(c cluster.Client, logger *logrus.Entry) *Installer {
	return &Installer{
		cluster: c,
		logger:  logger.WithField("component", infra.ComponentKeda),
	}
}

// WithChartVersion pins the chart version instead of the repo's latest.
func (i *Installer) WithChartVersion(version string) *Installer {
	i.chartVersion = version
	return i
}

func (i *Installer) Component() infra.Component {
	return infra.ComponentKeda
}

func (i *Installer) Requirements() infra.SystemRequirements {
	return infra.SystemRequirements{
		MinDiskGB:           1,
		MinMemoryGB:         1,
		RequiredExecutables: []string{"helm"},
		RequiredEndpoints: []infra.Endpoint{
			{Name: "kedacore chart repo", Address: HelmRepoURL},
		},
	}
}

func (i *Installer) Install(ctx context.Context, rb *infra.RollbackContext) error {
	deployed, err := i.cluster.HelmReleaseDeployed(ctx, Namespace, ReleaseName)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentKeda, infra.PhaseInstallation,
			"could not query existing release", "verify helm can reach the cluster", err)
	}

	created, err := i.cluster.EnsureNamespace(ctx, Namespace)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentKeda, infra.PhaseInstallation,
			fmt.Sprintf("could not create namespace %s", Namespace),
			"verify the cluster API is reachable", err)
	}
	if created {
		rb.RecordNamespace(Namespace)
	}

	if err := i.cluster.HelmRepoAdd(ctx, HelmRepoName, HelmRepoURL); err != nil {
		return infra.Transient(infra.ErrDownload, infra.ComponentKeda, infra.PhaseDownload,
			"could not register the kedacore chart repo",
			"check network connectivity to "+HelmRepoURL, err)
	}

	if !deployed {
		rb.RecordHelmRelease(Namespace, ReleaseName)
	}

	chart := cluster.Chart{
		RepoName:  HelmRepoName,
		RepoURL:   HelmRepoURL,
		Chart:     ChartName,
		Release:   ReleaseName,
		Namespace: Namespace,
		Version:   i.chartVersion,
	}
	if err := i.cluster.HelmUpgradeInstall(ctx, chart); err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentKeda, infra.PhaseInstallation,
			"helm deploy of keda failed",
			"inspect the helm output; the operation is safe to retry", err)
	}
	return nil
}

func (i *Installer) Checker() infra.HealthChecker {
	return cluster.NewReleaseChecker(i.cluster, Namespace, ReleaseName)
}

// ReadyTimeout is short: KEDA is a lightweight pair of controllers.
func (i *Installer) ReadyTimeout() time.Duration {
	return 3 * time.Minute
}

// Validate confirms the KEDA CRDs are registered and established, since the
// ScaledJob wiring for build agents depends on them.
func (i *Installer) Validate(ctx context.Context) error {
	for _, crd := range requiredCRDs {
		established, err := i.cluster.CRDEstablished(ctx, crd)
		if err != nil {
			return infra.Transient(infra.ErrValidation, infra.ComponentKeda, infra.PhaseValidation,
				fmt.Sprintf("could not query CRD %s", crd),
				"verify the cluster API is reachable", err)
		}
		if !established {
			return infra.Transient(infra.ErrValidation, infra.ComponentKeda, infra.PhaseValidation,
				fmt.Sprintf("CRD %s is not established", crd),
				"the keda operator may still be starting; re-run validation or inspect its logs",
				nil)
		}
	}
	return nil
}

func (i *Installer) Credentials(context.Context) (*infra.Credentials, error) {
	return nil, nil
}

func (i *Installer) Installed(ctx context.Context) (bool, error) {
	return i.cluster.HelmReleaseDeployed(ctx, Namespace, ReleaseName)
}

func (i *Installer) Uninstall(ctx context.Context) error {
	exists, err := i.cluster.NamespaceExists(ctx, Namespace)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := i.cluster.HelmUninstall(ctx, Namespace, ReleaseName); err != nil {
		return err
	}
	return i.cluster.DeleteNamespace(ctx, Namespace)
}
