package infra

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Public Types - Components
// -----------------------------------------------------------------------------

// Component identifies one of the installable infrastructure units.
type Component string

const (
	// ComponentK3s is the k3s Kubernetes distribution, the base of the stack.
	ComponentK3s Component = "k3s"

	// ComponentRedis is the Redis instance backing the job queue stream.
	ComponentRedis Component = "redis"

	// ComponentGitea is the self-hosted Git service.
	ComponentGitea Component = "gitea"

	// ComponentKeda is the KEDA autoscaler which scales build agents
	// against the Redis Stream queue depth.
	ComponentKeda Component = "keda"

	// ComponentFlux is the Flux GitOps controller reconciling cluster
	// state from Gitea.
	ComponentFlux Component = "flux"
)

// AllComponents lists every installable component in install priority order.
// The order is significant: it is the tie-break used by Order() when two
// requested components have no dependency relationship, keeping multi
// component installs deterministic.
var AllComponents = []Component{
	ComponentK3s,
	ComponentRedis,
	ComponentGitea,
	ComponentKeda,
	ComponentFlux,
}

// ParseComponent resolves a user-provided name to a Component.
func ParseComponent(name string) (Component, error) {
	c := Component(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllComponents {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown component %q (valid: %s)", name, componentNames())
}

func componentNames() string {
	names := make([]string, 0, len(AllComponents))
	for _, c := range AllComponents {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// -----------------------------------------------------------------------------
// Public Types - Install Phases
// -----------------------------------------------------------------------------

// InstallPhase attributes an error or log line to a stage of the installer
// lifecycle. Phases are ordered but carry no state of their own.
type InstallPhase string

const (
	PhasePreFlight     InstallPhase = "pre-flight"
	PhaseDownload      InstallPhase = "download"
	PhaseVerification  InstallPhase = "verification"
	PhaseInstallation  InstallPhase = "installation"
	PhaseConfiguration InstallPhase = "configuration"
	PhaseBootstrap     InstallPhase = "bootstrap"
	PhaseValidation    InstallPhase = "validation"
	PhasePostInstall   InstallPhase = "post-install"
)
