package infra

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passingValidator probes a host that satisfies everything.
func passingValidator() *Validator {
	return &Validator{
		logger:        testLogger(),
		lookPath:      func(name string) (string, error) { return "/usr/bin/" + name, nil },
		availableDisk: func(string) (uint64, error) { return 500 * bytesPerGB, nil },
		totalMemory:   func() (uint64, error) { return 32 * bytesPerGB, nil },
		ensureDir:     func(string) error { return nil },
		reachable:     func(context.Context, string) error { return nil },
	}
}

func TestValidatePasses(t *testing.T) {
	v := passingValidator()
	err := v.Validate(context.Background(), ComponentK3s, SystemRequirements{
		MinDiskGB:           20,
		MinMemoryGB:         4,
		RequiredExecutables: []string{"curl", "systemctl"},
		RequiredDirectories: []string{"/etc/rancher"},
		RequiredEndpoints:   []Endpoint{{Name: "k3s install script", Address: "https://get.k3s.io"}},
	})
	assert.NoError(t, err)
}

func TestValidateMissingRequiredExecutable(t *testing.T) {
	v := passingValidator()
	v.lookPath = func(name string) (string, error) {
		if name == "helm" {
			return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
		}
		return "/usr/bin/" + name, nil
	}

	err := v.Validate(context.Background(), ComponentRedis, SystemRequirements{
		RequiredExecutables: []string{"curl", "helm"},
	})
	require.Error(t, err)

	ie, ok := AsInfraError(err)
	require.True(t, ok)
	assert.Equal(t, ErrPrerequisiteMissing, ie.Kind)
	assert.Equal(t, SeverityFatal, ie.Severity)
	assert.Equal(t, PhasePreFlight, ie.Phase)
	assert.Contains(t, ie.Reason, `"helm"`)
	assert.NotContains(t, ie.Reason, `"curl"`)
	assert.Contains(t, ie.Suggestion, "install helm")
}

func TestValidateMissingOptionalExecutableOnlyWarns(t *testing.T) {
	v := passingValidator()
	v.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	err := v.Validate(context.Background(), ComponentK3s, SystemRequirements{
		OptionalExecutables: []string{"kubectl"},
	})
	assert.NoError(t, err, "optional executables never fail validation")
}

func TestValidateInsufficientResources(t *testing.T) {
	v := passingValidator()
	v.availableDisk = func(string) (uint64, error) { return 5 * bytesPerGB, nil }
	v.totalMemory = func() (uint64, error) { return 2 * bytesPerGB, nil }

	err := v.Validate(context.Background(), ComponentK3s, SystemRequirements{
		MinDiskGB:   20,
		MinMemoryGB: 4,
	})
	require.Error(t, err)

	ie, _ := AsInfraError(err)
	require.NotNil(t, ie)
	assert.Contains(t, ie.Reason, "5GB available, 20GB required")
	assert.Contains(t, ie.Reason, "2GB present, 4GB required")
}

func TestValidateAggregatesAllFailures(t *testing.T) {
	v := passingValidator()
	v.availableDisk = func(string) (uint64, error) { return 1 * bytesPerGB, nil }
	v.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	v.reachable = func(context.Context, string) error { return errors.New("no route to host") }

	err := v.Validate(context.Background(), ComponentGitea, SystemRequirements{
		MinDiskGB:           10,
		RequiredExecutables: []string{"helm"},
		RequiredEndpoints:   []Endpoint{{Name: "chart repo", Address: "https://dl.gitea.com/charts"}},
	})
	require.Error(t, err)

	// one pass reports every failure instead of stopping at the first
	ie, _ := AsInfraError(err)
	require.NotNil(t, ie)
	assert.Contains(t, ie.Reason, "insufficient disk space")
	assert.Contains(t, ie.Reason, `"helm"`)
	assert.Contains(t, ie.Reason, "chart repo")
	assert.Contains(t, ie.Reason, "no route to host")
}

func TestValidateDirectoryProbeFailure(t *testing.T) {
	v := passingValidator()
	v.ensureDir = func(path string) error { return fmt.Errorf("mkdir %s: permission denied", path) }

	err := v.Validate(context.Background(), ComponentK3s, SystemRequirements{
		RequiredDirectories: []string{"/etc/rancher/k3s"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/etc/rancher/k3s")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestValidateUsesRootWhenDiskPathEmpty(t *testing.T) {
	var probed string
	v := passingValidator()
	v.availableDisk = func(path string) (uint64, error) {
		probed = path
		return 500 * bytesPerGB, nil
	}

	require.NoError(t, v.Validate(context.Background(), ComponentK3s, SystemRequirements{MinDiskGB: 1}))
	assert.Equal(t, "/", probed)
}
