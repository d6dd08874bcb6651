package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultName is the profile name written when no profile file exists
const DefaultName = "User"

// Profile describes the person whose mentions trigger alerts
type Profile struct {
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Keywords []string `json:"keywords"`
	Projects []string `json:"projects"`
}

// Default returns the profile created for a fresh install
func Default() Profile {
	return Profile{Name: DefaultName, Keywords: []string{}, Projects: []string{}}
}

// Store is a JSON file holding one profile. Reads and writes are serialized.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens the profile file at path, creating it with defaults when absent
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("profile path is required")
	}

	s := &Store{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(Default()); err != nil {
			return nil, fmt.Errorf("failed to create default profile: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat profile file: %w", err)
	}
	return s, nil
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Get reads the current profile from disk
func (s *Store) Get() (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update replaces the stored profile
func (s *Store) Update(p Profile) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Keywords == nil {
		p.Keywords = []string{}
	}
	if p.Projects == nil {
		p.Projects = []string{}
	}
	if err := s.write(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *Store) read() (Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p, nil
}

// write replaces the file atomically through a temp file in the same directory
func (s *Store) write(p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp profile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace profile: %w", err)
	}
	return nil
}
