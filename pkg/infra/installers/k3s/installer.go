package k3s

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/sirupsen/logrus"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// K3s Installer
// -----------------------------------------------------------------------------

const (
	// InstallScriptURL is the upstream k3s installer entrypoint.
	InstallScriptURL = "https://get.k3s.io"

	// BinaryPath is where the install script places the k3s binary.
	BinaryPath = "/usr/local/bin/k3s"

	// UninstallScriptPath is the uninstall script the k3s installer drops
	// on the host.
	UninstallScriptPath = "/usr/local/bin/k3s-uninstall.sh"

	// KubeconfigPath is where k3s writes the admin kubeconfig.
	KubeconfigPath = "/etc/rancher/k3s/k3s.yaml"

	// SystemdUnit is the service name the install script registers.
	SystemdUnit = "k3s"

	// minServerVersion is the oldest Kubernetes version the rest of the
	// stack (KEDA, Flux charts) is known to work against.
	minServerVersion = "1.27.0"
)

// Installer deploys k3s onto the local host via the upstream install script
// and validates the resulting single-node cluster.
type Installer struct {
	cluster cluster.Client
	runner  infra.CommandRunner
	logger  *logrus.Entry

	stat func(string) (os.FileInfo, error)
}

// New provides a k3s installer. The cluster client may be lazy: it is only
// used after the install script has produced a kubeconfig.
func New(c cluster.Client, runner infra.CommandRunner, logger *logrus.Entry) *Installer {
	return &Installer{
		cluster: c,
		runner:  runner,
		logger:  logger.WithField("component", infra.ComponentK3s),
		stat:    os.Stat,
	}
}

func (i *Installer) Component() infra.Component {
	return infra.ComponentK3s
}

func (i *Installer) Requirements() infra.SystemRequirements {
	return infra.SystemRequirements{
		MinDiskGB:           10,
		DiskPath:            "/var/lib",
		MinMemoryGB:         2,
		RequiredExecutables: []string{"curl", "sh", "systemctl"},
		OptionalExecutables: []string{"kubectl", "helm"},
		RequiredDirectories: []string{"/etc/rancher", "/var/lib/rancher"},
		RequiredEndpoints: []infra.Endpoint{
			{Name: "k3s install script", Address: InstallScriptURL},
		},
	}
}

func (i *Installer) Install(ctx context.Context, rb *infra.RollbackContext) error {
	installed, err := i.Installed(ctx)
	if err != nil {
		return err
	}
	if installed {
		// re-running the upstream script against a live install is a
		// supported upgrade path, but a no-op keeps re-runs cheap
		i.logger.Info("k3s already installed and active, skipping install script")
		return nil
	}

	// Download first so a network failure is attributed correctly.
	script, err := i.runner.Run(ctx, "curl", "-sfL", InstallScriptURL)
	if err != nil {
		return infra.Transient(infra.ErrDownload, infra.ComponentK3s, infra.PhaseDownload,
			fmt.Sprintf("could not download install script from %s", InstallScriptURL),
			"check network connectivity to get.k3s.io",
			err)
	}
	if len(script) == 0 {
		return infra.Transient(infra.ErrDownload, infra.ComponentK3s, infra.PhaseDownload,
			"install script downloaded empty",
			"retry, get.k3s.io may be serving a bad response",
			nil)
	}

	tmp, err := os.CreateTemp("", "k3s-install-*.sh")
	if err != nil {
		return infra.Fatal(infra.ErrInstallation, infra.ComponentK3s, infra.PhaseInstallation,
			"could not stage install script", "check permissions on the temp directory", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(script); err != nil {
		tmp.Close()
		return infra.Fatal(infra.ErrInstallation, infra.ComponentK3s, infra.PhaseInstallation,
			"could not stage install script", "check free space in the temp directory", err)
	}
	tmp.Close()

	// The uninstall script and systemd unit appear as soon as the script
	// runs; register the undo before waiting on anything else.
	rb.RecordUninstallScript(UninstallScriptPath)

	if _, err := i.runner.Run(ctx, "sh", tmp.Name(), "-", "--write-kubeconfig-mode", "644"); err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentK3s, infra.PhaseInstallation,
			"k3s install script failed",
			"inspect the script output above; the script is safe to re-run",
			err)
	}

	return nil
}

func (i *Installer) Checker() infra.HealthChecker {
	return cluster.NewClusterChecker(i.cluster)
}

func (i *Installer) ReadyTimeout() time.Duration {
	return 5 * time.Minute
}

func (i *Installer) Validate(ctx context.Context) error {
	version, err := i.cluster.ServerVersion(ctx)
	if err != nil {
		return infra.Transient(infra.ErrValidation, infra.ComponentK3s, infra.PhaseValidation,
			"could not read server version",
			"verify the cluster API is reachable via "+KubeconfigPath,
			err)
	}
	if version.LT(semver.MustParse(minServerVersion)) {
		return infra.Fatal(infra.ErrValidation, infra.ComponentK3s, infra.PhaseValidation,
			fmt.Sprintf("server version %s is older than the minimum supported %s", version, minServerVersion),
			"upgrade k3s or pin older component chart versions",
			nil)
	}

	ready, total, err := i.cluster.NodesReady(ctx)
	if err != nil {
		return infra.Transient(infra.ErrValidation, infra.ComponentK3s, infra.PhaseValidation,
			"could not list nodes", "verify the cluster API is reachable", err)
	}
	if ready == 0 {
		return infra.Transient(infra.ErrValidation, infra.ComponentK3s, infra.PhaseValidation,
			fmt.Sprintf("no ready nodes (%d registered)", total),
			"check 'systemctl status k3s' and the k3s journal",
			nil)
	}
	return nil
}

func (i *Installer) Credentials(context.Context) (*infra.Credentials, error) {
	return &infra.Credentials{
		Component:      infra.ComponentK3s,
		URL:            "https://127.0.0.1:6443",
		KubeconfigPath: KubeconfigPath,
	}, nil
}

func (i *Installer) Installed(ctx context.Context) (bool, error) {
	if _, err := i.stat(BinaryPath); err != nil {
		return false, nil
	}
	out, err := i.runner.Run(ctx, "systemctl", "is-active", SystemdUnit)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "active", nil
}

func (i *Installer) Uninstall(ctx context.Context) error {
	if _, err := i.stat(UninstallScriptPath); err != nil {
		i.logger.Info("k3s uninstall script not present, nothing to do")
		return nil
	}
	if _, err := i.runner.Run(ctx, "sh", UninstallScriptPath); err != nil {
		return infra.Fatal(infra.ErrInstallation, infra.ComponentK3s, infra.PhaseInstallation,
			"k3s uninstall script failed",
			"inspect the script output and remove remaining state manually",
			err)
	}
	return infra.RemoveCredentials(infra.ComponentK3s)
}
