package gitea

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// Gitea Installer
// -----------------------------------------------------------------------------

const (
	// Namespace is where the Gitea release is deployed.
	Namespace = "raibid-gitea"

	// ReleaseName is the Helm release name.
	ReleaseName = "raibid-gitea"

	// HelmRepoName and HelmRepoURL identify the chart repository.
	HelmRepoName = "gitea-charts"
	HelmRepoURL  = "https://dl.gitea.com/charts/"

	// ChartName is the chart reference installed from the repo.
	ChartName = "gitea-charts/gitea"

	// NodePort exposes the Gitea HTTP service on the host.
	NodePort = 30300

	// AdminUsername is the bootstrap admin account.
	AdminUsername = "raibid"
)

// -----------------------------------------------------------------------------
// Gitea Installer - Builder
// -----------------------------------------------------------------------------

type Builder struct {
	chartVersion string
	namespace    string
}

func NewBuilder() *Builder {
	return &Builder{namespace: Namespace}
}

// WithChartVersion pins the chart version instead of the repo's latest.
func (b *Builder) WithChartVersion(version string) *Builder {
	b.chartVersion = version
	return b
}

// WithNamespace overrides the target namespace.
func (b *Builder) WithNamespace(namespace string) *Builder {
	b.namespace = namespace
	return b
}

func (b *Builder) Build(c cluster.Client, logger *logrus.Entry) *Installer {
	return &Installer{
		cluster:      c,
		logger:       logger.WithField("component", infra.ComponentGitea),
		chartVersion: b.chartVersion,
		namespace:    b.namespace,
		baseURL:      fmt.Sprintf("http://127.0.0.1:%d", NodePort),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// New provides a Gitea installer with defaults.
func New(c cluster.Client, logger *logrus.Entry) *Installer {
	return NewBuilder().Build(c, logger)
}

// -----------------------------------------------------------------------------
// Gitea Installer - Implementation
// -----------------------------------------------------------------------------

// Installer deploys the self-hosted Git service the CI stack builds from.
type Installer struct {
	cluster      cluster.Client
	logger       *logrus.Entry
	chartVersion string
	namespace    string

	password   string
	baseURL    string
	httpClient *http.Client
}

func (i *Installer) Component() infra.Component {
	return infra.ComponentGitea
}

func (i *Installer) Requirements() infra.SystemRequirements {
	return infra.SystemRequirements{
		MinDiskGB:           10,
		MinMemoryGB:         2,
		RequiredExecutables: []string{"helm"},
		OptionalExecutables: []string{"git"},
		RequiredEndpoints: []infra.Endpoint{
			{Name: "gitea chart repo", Address: HelmRepoURL},
		},
	}
}

func (i *Installer) Install(ctx context.Context, rb *infra.RollbackContext) error {
	if err := i.ensurePassword(); err != nil {
		return err
	}

	deployed, err := i.cluster.HelmReleaseDeployed(ctx, i.namespace, ReleaseName)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentGitea, infra.PhaseInstallation,
			"could not query existing release", "verify helm can reach the cluster", err)
	}

	created, err := i.cluster.EnsureNamespace(ctx, i.namespace)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentGitea, infra.PhaseInstallation,
			fmt.Sprintf("could not create namespace %s", i.namespace),
			"verify the cluster API is reachable", err)
	}
	if created {
		rb.RecordNamespace(i.namespace)
	}

	if err := i.cluster.HelmRepoAdd(ctx, HelmRepoName, HelmRepoURL); err != nil {
		return infra.Transient(infra.ErrDownload, infra.ComponentGitea, infra.PhaseDownload,
			"could not register the gitea chart repo",
			"check network connectivity to "+HelmRepoURL, err)
	}

	if !deployed {
		rb.RecordHelmRelease(i.namespace, ReleaseName)
	}

	chart := cluster.Chart{
		RepoName:  HelmRepoName,
		RepoURL:   HelmRepoURL,
		Chart:     ChartName,
		Release:   ReleaseName,
		Namespace: i.namespace,
		Version:   i.chartVersion,
		Values: map[string]string{
			"gitea.admin.username":          AdminUsername,
			"gitea.admin.password":          i.password,
			"service.http.type":             "NodePort",
			"service.http.nodePort":         strconv.Itoa(NodePort),
			"postgresql.enabled":            "false",
			"postgresql-ha.enabled":         "false",
			"redis-cluster.enabled":         "false",
			"gitea.config.database.DB_TYPE": "sqlite3",
			"persistence.size":              "5Gi",
		},
	}
	if err := i.cluster.HelmUpgradeInstall(ctx, chart); err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentGitea, infra.PhaseInstallation,
			"helm deploy of gitea failed",
			"inspect the helm output; the operation is safe to retry", err)
	}
	return nil
}

func (i *Installer) Checker() infra.HealthChecker {
	return cluster.NewReleaseChecker(i.cluster, i.namespace, ReleaseName)
}

func (i *Installer) ReadyTimeout() time.Duration {
	return 10 * time.Minute
}

// Validate probes Gitea's own health endpoint: pod readiness alone does not
// prove the web layer and database migrations finished.
func (i *Installer) Validate(ctx context.Context) error {
	return infra.Retry(ctx, infra.QuickRetry(), infra.ComponentGitea, infra.PhaseValidation, "gitea healthz", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/api/healthz", nil)
		if err != nil {
			return infra.Fatal(infra.ErrValidation, infra.ComponentGitea, infra.PhaseValidation,
				"could not build healthz request", "this is a bug, please report it", err)
		}
		resp, err := i.httpClient.Do(req)
		if err != nil {
			return infra.Transient(infra.ErrValidation, infra.ComponentGitea, infra.PhaseValidation,
				"gitea healthz endpoint unreachable at "+i.baseURL,
				"verify the NodePort service is exposed on the host", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return infra.Transient(infra.ErrValidation, infra.ComponentGitea, infra.PhaseValidation,
				fmt.Sprintf("gitea healthz returned %d", resp.StatusCode),
				"inspect the gitea pod logs for failed migrations", nil)
		}
		return nil
	})
}

func (i *Installer) Credentials(context.Context) (*infra.Credentials, error) {
	if err := i.ensurePassword(); err != nil {
		return nil, err
	}
	return &infra.Credentials{
		Component: infra.ComponentGitea,
		URL:       i.baseURL,
		Username:  AdminUsername,
		Password:  i.password,
		Namespace: i.namespace,
	}, nil
}

func (i *Installer) Installed(ctx context.Context) (bool, error) {
	return i.cluster.HelmReleaseDeployed(ctx, i.namespace, ReleaseName)
}

func (i *Installer) Uninstall(ctx context.Context) error {
	exists, err := i.cluster.NamespaceExists(ctx, i.namespace)
	if err != nil {
		return err
	}
	if !exists {
		// nothing deployed; stale credentials may still linger
		return infra.RemoveCredentials(infra.ComponentGitea)
	}
	if err := i.cluster.HelmUninstall(ctx, i.namespace, ReleaseName); err != nil {
		return err
	}
	if err := i.cluster.DeleteNamespace(ctx, i.namespace); err != nil {
		return err
	}
	return infra.RemoveCredentials(infra.ComponentGitea)
}

// ensurePassword reuses the password from a previous install so an upgrade
// never rotates the admin account.
func (i *Installer) ensurePassword() error {
	if i.password != "" {
		return nil
	}
	if creds, err := infra.ReadCredentials(infra.ComponentGitea); err == nil && creds.Password != "" {
		i.password = creds.Password
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		i.logger.WithError(err).Warn("ignoring unreadable credentials file, generating a new password")
	}
	password, err := infra.GeneratePassword()
	if err != nil {
		return infra.Fatal(infra.ErrInstallation, infra.ComponentGitea, infra.PhaseConfiguration,
			"could not generate an admin password", "check the system entropy source", err)
	}
	i.password = password
	return nil
}
