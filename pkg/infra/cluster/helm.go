package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/raibid-labs/raibid/internal/retry"
)

// -----------------------------------------------------------------------------
// Helm CLI
// -----------------------------------------------------------------------------

// helmCLI wraps the helm binary pinned to a single kubeconfig. All calls
// capture stderr so failures surface helm's own diagnostics.
type helmCLI struct {
	kubeconfig string
}

func (h helmCLI) base() []string {
	return []string{"--kubeconfig", h.kubeconfig}
}

// repoAdd registers the chart repo and refreshes the index. --force-update
// makes re-registration a no-op, and the whole call is retried since repo
// index fetches are network-bound.
func (h helmCLI) repoAdd(ctx context.Context, name, url string) error {
	args := append(h.base(), "repo", "add", "--force-update", name, url)
	if err := retry.Command("helm", args...).Do(ctx); err != nil {
		return err
	}
	return retry.Command("helm", append(h.base(), "repo", "update", name)...).Do(ctx)
}

func (h helmCLI) upgradeInstall(ctx context.Context, chart Chart) error {
	args := append(h.base(),
		"upgrade", "--install", chart.Release, chart.Chart,
		"--namespace", chart.Namespace,
		"--create-namespace",
		"--wait=false",
	)
	if chart.Version != "" {
		args = append(args, "--version", chart.Version)
	}

	// deterministic --set ordering keeps invocations reproducible in logs
	keys := make([]string, 0, len(chart.Values))
	for k := range chart.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--set", fmt.Sprintf("%s=%s", k, chart.Values[k]))
	}

	_, err := retry.Runner{}.Run(ctx, "helm", args...)
	return err
}

func (h helmCLI) uninstall(ctx context.Context, namespace, release string) error {
	args := append(h.base(), "uninstall", release, "--namespace", namespace)
	err := retry.Command("helm", args...).DoWithErrorHandling(ctx, func(err error, _, stderr *bytes.Buffer) error {
		// tolerate an already-removed release
		if strings.Contains(stderr.String(), "not found") {
			return nil
		}
		return fmt.Errorf("%s: %w", stderr.String(), err)
	})
	return err
}

func (h helmCLI) releaseDeployed(ctx context.Context, namespace, release string) (bool, error) {
	args := append(h.base(), "status", release, "--namespace", namespace, "-o", "json")
	out, err := retry.Runner{}.Run(ctx, "helm", args...)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, err
	}

	var status struct {
		Info struct {
			Status string `json:"status"`
		} `json:"info"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		return false, fmt.Errorf("parsing helm status output: %w", err)
	}
	return status.Info.Status == "deployed", nil
}
