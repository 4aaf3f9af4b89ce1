package infra

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// -----------------------------------------------------------------------------
// Public Types - System Requirements
// -----------------------------------------------------------------------------

// Endpoint is a network target that must be reachable before installation.
// Address is either an http(s) URL or a host:port pair.
type Endpoint struct {
	Name    string
	Address string
}

// SystemRequirements describes what a component needs from the host before
// its installer is allowed to run. Read-only after construction.
type SystemRequirements struct {
	// MinDiskGB is the minimum available disk space on DiskPath.
	MinDiskGB uint64

	// DiskPath is where the disk check runs; defaults to "/".
	DiskPath string

	// MinMemoryGB is the minimum total system memory.
	MinMemoryGB uint64

	// RequiredExecutables must resolve on PATH; any miss is fatal.
	RequiredExecutables []string

	// OptionalExecutables produce a warning when missing, never a failure.
	OptionalExecutables []string

	// RequiredDirectories are created if missing; an uncreatable
	// directory is fatal.
	RequiredDirectories []string

	// RequiredEndpoints must be reachable; any miss is fatal.
	RequiredEndpoints []Endpoint
}

// -----------------------------------------------------------------------------
// Public Types - Pre-flight Validator
// -----------------------------------------------------------------------------

// Validator checks SystemRequirements against the host. Probe functions are
// fields so unit tests can substitute them without a real host.
type Validator struct {
	logger *logrus.Entry

	lookPath      func(name string) (string, error)
	availableDisk func(path string) (uint64, error)
	totalMemory   func() (uint64, error)
	ensureDir     func(path string) error
	reachable     func(ctx context.Context, address string) error
}

// NewValidator provides a Validator probing the real host.
func NewValidator(logger *logrus.Entry) *Validator {
	return &Validator{
		logger:        logger,
		lookPath:      exec.LookPath,
		availableDisk: availableDisk,
		totalMemory:   totalMemory,
		ensureDir: func(path string) error {
			return os.MkdirAll(path, 0o755)
		},
		reachable: endpointReachable,
	}
}

// Validate runs every check and aggregates the failures, so one pass yields
// a complete diagnostic instead of fix-one-rerun-hit-the-next. Any fatal
// condition fails validation; missing optional executables only warn.
func (v *Validator) Validate(ctx context.Context, component Component, req SystemRequirements) error {
	logger := v.logger.WithField("component", component)
	var failures []string
	var suggestions []string

	fail := func(reason, suggestion string) {
		failures = append(failures, reason)
		suggestions = append(suggestions, suggestion)
	}

	if req.MinDiskGB > 0 {
		path := req.DiskPath
		if path == "" {
			path = "/"
		}
		avail, err := v.availableDisk(path)
		switch {
		case err != nil:
			fail(fmt.Sprintf("could not determine free disk space on %s: %v", path, err),
				"verify the path exists and is readable")
		case avail < req.MinDiskGB*bytesPerGB:
			fail(fmt.Sprintf("insufficient disk space on %s: %dGB available, %dGB required", path, avail/bytesPerGB, req.MinDiskGB),
				"free up disk space or point the installation at a larger volume")
		}
	}

	if req.MinMemoryGB > 0 {
		total, err := v.totalMemory()
		switch {
		case err != nil:
			fail(fmt.Sprintf("could not determine system memory: %v", err),
				"verify the host exposes sysinfo")
		case total < req.MinMemoryGB*bytesPerGB:
			fail(fmt.Sprintf("insufficient memory: %dGB present, %dGB required", total/bytesPerGB, req.MinMemoryGB),
				"add memory or run on a larger host")
		}
	}

	for _, bin := range req.RequiredExecutables {
		if _, err := v.lookPath(bin); err != nil {
			fail(fmt.Sprintf("required executable %q not found on PATH", bin),
				fmt.Sprintf("install %s and ensure it is on PATH", bin))
		}
	}

	for _, bin := range req.OptionalExecutables {
		if _, err := v.lookPath(bin); err != nil {
			logger.Warnf("optional executable %q not found on PATH, some functionality may be limited", bin)
		}
	}

	for _, dir := range req.RequiredDirectories {
		if err := v.ensureDir(dir); err != nil {
			fail(fmt.Sprintf("required directory %s could not be created: %v", dir, err),
				fmt.Sprintf("create %s manually or run with sufficient privileges", dir))
		}
	}

	for _, ep := range req.RequiredEndpoints {
		if err := v.reachable(ctx, ep.Address); err != nil {
			fail(fmt.Sprintf("required endpoint %s (%s) is unreachable: %v", ep.Name, ep.Address, err),
				"check network connectivity, DNS, and any proxy configuration")
		}
	}

	if len(failures) == 0 {
		logger.Debug("pre-flight checks passed")
		return nil
	}

	return Fatal(ErrPrerequisiteMissing, component, PhasePreFlight,
		strings.Join(failures, "; "),
		strings.Join(dedupe(suggestions), "; "),
		nil)
}

// -----------------------------------------------------------------------------
// Pre-flight Validator - Host Probes
// -----------------------------------------------------------------------------

const bytesPerGB = 1 << 30

func availableDisk(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil //nolint:unconvert
}

func totalMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Totalram) * uint64(si.Unit), nil //nolint:unconvert
}

// endpointReachable performs a best-effort reachability probe with a short
// timeout: HEAD for URLs, a TCP dial for host:port addresses.
func endpointReachable(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, address, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
