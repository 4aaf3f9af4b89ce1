package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
	"github.com/raibid-labs/raibid/pkg/infra/installers/flux"
	"github.com/raibid-labs/raibid/pkg/infra/installers/gitea"
	"github.com/raibid-labs/raibid/pkg/infra/installers/k3s"
	"github.com/raibid-labs/raibid/pkg/infra/installers/keda"
	"github.com/raibid-labs/raibid/pkg/infra/installers/redis"
)

// buildInstaller wires the component's installer to the shared cluster
// client and host command runner.
func buildInstaller(c infra.Component, client cluster.Client, runner infra.CommandRunner, log *logrus.Entry) (infra.Installer, error) {
	switch c {
	case infra.ComponentK3s:
		return k3s.New(client, runner, log), nil
	case infra.ComponentRedis:
		return redis.New(client, log), nil
	case infra.ComponentGitea:
		return gitea.New(client, log), nil
	case infra.ComponentKeda:
		return keda.New(client, log), nil
	case infra.ComponentFlux:
		return flux.New(client, log), nil
	default:
		return nil, fmt.Errorf("no installer registered for component %q", c)
	}
}

// componentNamespace reports where a component's workloads live; empty for
// host-level components.
func componentNamespace(c infra.Component) string {
	switch c {
	case infra.ComponentRedis:
		return redis.Namespace
	case infra.ComponentGitea:
		return gitea.Namespace
	case infra.ComponentKeda:
		return keda.Namespace
	case infra.ComponentFlux:
		return flux.Namespace
	default:
		return ""
	}
}

// parseComponents expands the CLI argument list, where "all" selects every
// component, into a deduplicated component set.
func parseComponents(args []string) ([]infra.Component, error) {
	var out []infra.Component
	seen := make(map[infra.Component]bool)
	for _, arg := range args {
		if arg == "all" {
			for _, c := range infra.AllComponents {
				if !seen[c] {
					seen[c] = true
					out = append(out, c)
				}
			}
			continue
		}
		c, err := infra.ParseComponent(arg)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("component %s was provided more than once", c)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
