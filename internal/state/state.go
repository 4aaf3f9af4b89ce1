package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raibid-labs/raibid/pkg/infra"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// ComponentState records one installed component. Kept in a file rather
// than process memory so every CLI invocation starts from what is actually
// on the host.
type ComponentState struct {
	Component   infra.Component `json:"component"`
	InstalledAt time.Time       `json:"installed_at"`
	RunID       string          `json:"run_id"`
	Namespace   string          `json:"namespace,omitempty"`
}

// State is the persisted install state, keyed by component.
type State struct {
	Components map[infra.Component]ComponentState `json:"components"`
}

// Store reads and writes the state file under the raibid home directory.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore provides a Store at the default location, creating the directory
// if necessary.
func NewStore() (*Store, error) {
	dir, err := infra.Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(dir, "state.json")}, nil
}

// Load pulls the latest state from disk. A missing file is an empty state.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*State, error) {
	st := &State{Components: make(map[infra.Component]ComponentState)}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	if st.Components == nil {
		st.Components = make(map[infra.Component]ComponentState)
	}
	return st, nil
}

func (s *Store) save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// MarkInstalled records a component as installed (load-modify-save, atomic
// rename).
func (s *Store) MarkInstalled(cs ComponentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	st.Components[cs.Component] = cs
	return s.save(st)
}

// MarkRemoved drops a component from the state.
func (s *Store) MarkRemoved(component infra.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	delete(st.Components, component)
	return s.save(st)
}

// InstalledSet returns the set of installed components, the shape the
// dependency resolver consumes.
func (st *State) InstalledSet() map[infra.Component]bool {
	installed := make(map[infra.Component]bool, len(st.Components))
	for c := range st.Components {
		installed[c] = true
	}
	return installed
}
