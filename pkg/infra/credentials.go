package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-password/password"
)

// -----------------------------------------------------------------------------
// Public Types - Credentials
// -----------------------------------------------------------------------------

// Credentials records how to reach a deployed service. One file per
// component is written at the end of a successful install and never mutated
// afterwards; the CLI, TUI, and build agents read it back.
type Credentials struct {
	Component Component `json:"component"`
	URL       string    `json:"url"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password,omitempty"`
	Namespace string    `json:"namespace,omitempty"`

	// KubeconfigPath is set for components that expose cluster access
	// rather than a service account.
	KubeconfigPath string `json:"kubeconfig_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Dir resolves the raibid home directory, honoring $RAIBID_HOME and
// defaulting to ~/.raibid.
func Dir() (string, error) {
	if dir := os.Getenv("RAIBID_HOME"); dir != "" {
		return dir, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".raibid"), nil
}

// CredentialsPath returns where the component's credentials file lives.
func CredentialsPath(component Component) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s-credentials.json", component)), nil
}

// WriteCredentials persists c atomically (write-temp-then-rename) with
// owner-only permissions, returning the final path.
func WriteCredentials(c *Credentials) (string, error) {
	path, err := CredentialsPath(c.Component)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), fmt.Sprintf(".%s-credentials-*", c.Component))
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// ReadCredentials loads a previously written credentials file.
func ReadCredentials(component Component) (*Credentials, error) {
	path, err := CredentialsPath(component)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("malformed credentials file %s: %w", path, err)
	}
	return &c, nil
}

// RemoveCredentials deletes the component's credentials file if present.
func RemoveCredentials(component Component) error {
	path, err := CredentialsPath(component)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GeneratePassword produces a service admin password.
// See: https://pkg.go.dev/github.com/sethvargo/go-password/password
func GeneratePassword() (string, error) {
	return password.Generate(32, 10, 0, false, false)
}
