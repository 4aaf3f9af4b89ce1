package flux

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// Flux Installer
// -----------------------------------------------------------------------------

const (
	// Namespace follows the upstream flux convention; the toolkit
	// controllers expect to run in flux-system.
	Namespace = "flux-system"

	// ReleaseName is the Helm release name.
	ReleaseName = "raibid-flux"

	// HelmRepoName and HelmRepoURL identify the chart repository.
	HelmRepoName = "fluxcd-community"
	HelmRepoURL  = "https://fluxcd-community.github.io/helm-charts"

	// ChartName is the chart reference installed from the repo.
	ChartName = "fluxcd-community/flux2"
)

// requiredCRDs are the source and kustomize definitions the GitOps loop
// reconciles through; without them Flux is deployed but inert.
var requiredCRDs = []string{
	"gitrepositories.source.toolkit.fluxcd.io",
	"kustomizations.kustomize.toolkit.fluxcd.io",
	"helmreleases.helm.toolkit.fluxcd.io",
}

// Installer deploys the Flux controllers that reconcile cluster state from
// Gitea.
type Installer struct {
	cluster      cluster.Client
	logger       *logrus.Entry
	chartVersion string
}

// New provides a Flux installer.
func New(c cluster.Client, logger *logrus.Entry) *Installer {
	return &Installer{
		cluster: c,
		logger:  logger.WithField("component", infra.ComponentFlux),
	}
}

// WithChartVersion pins the chart version instead of the repo's latest.
func (i *Installer) WithChartVersion(version string) *Installer {
	i.chartVersion = version
	return i
}

func (i *Installer) Component() infra.Component {
	return infra.ComponentFlux
}

func (i *Installer) Requirements() infra.SystemRequirements {
	return infra.SystemRequirements{
		MinDiskGB:           1,
		MinMemoryGB:         1,
		RequiredExecutables: []string{"helm"},
		OptionalExecutables: []string{"flux"},
		RequiredEndpoints: []infra.Endpoint{
			{Name: "fluxcd-community chart repo", Address: HelmRepoURL},
		},
	}
}

func (i *Installer) Install(ctx context.Context, rb *infra.RollbackContext) error {
	deployed, err := i.cluster.HelmReleaseDeployed(ctx, Namespace, ReleaseName)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentFlux, infra.PhaseInstallation,
			"could not query existing release", "verify helm can reach the cluster", err)
	}

	created, err := i.cluster.EnsureNamespace(ctx, Namespace)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentFlux, infra.PhaseInstallation,
			fmt.Sprintf("could not create namespace %s", Namespace),
			"verify the cluster API is reachable", err)
	}
	if created {
		rb.RecordNamespace(Namespace)
	}

	if err := i.cluster.HelmRepoAdd(ctx, HelmRepoName, HelmRepoURL); err != nil {
		return infra.Transient(infra.ErrDownload, infra.ComponentFlux, infra.PhaseDownload,
			"could not register the fluxcd-community chart repo",
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
		return infra.Transient(infra.ErrInstallation, infra.ComponentFlux, infra.PhaseInstallation,
			"helm deploy of flux failed",
			"inspect the helm output; the operation is safe to retry", err)
	}
	return nil
}

func (i *Installer) Checker() infra.HealthChecker {
	return cluster.NewReleaseChecker(i.cluster, Namespace, ReleaseName)
}

func (i *Installer) ReadyTimeout() time.Duration {
	return 5 * time.Minute
}

// Validate confirms the Flux CRDs are registered and established so that
// GitRepository/Kustomization objects can reconcile.
func (i *Installer) Validate(ctx context.Context) error {
	for _, crd := range requiredCRDs {
		established, err := i.cluster.CRDEstablished(ctx, crd)
		if err != nil {
			return infra.Transient(infra.ErrValidation, infra.ComponentFlux, infra.PhaseValidation,
				fmt.Sprintf("could not query CRD %s", crd),
				"verify the cluster API is reachable", err)
		}
		if !established {
			return infra.Transient(infra.ErrValidation, infra.ComponentFlux, infra.PhaseValidation,
				fmt.Sprintf("CRD %s is not established", crd),
				"the flux controllers may still be starting; re-run validation or inspect their logs",
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
