package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store manages the on-disk artifact layout: parsed outline documents and
// generated case blobs, grouped per record under a base data directory.
type Store struct {
	baseDir string
}

// New creates an artifact store rooted at CASEGEN_DATA_DIR, falling back to
// a "casegen" directory under the user config dir.
func New() (*Store, error) {
	baseDir := os.Getenv("CASEGEN_DATA_DIR")
	if baseDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user config directory: %w", err)
		}
		baseDir = filepath.Join(configDir, "casegen", "data")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// NewAt creates an artifact store rooted at an explicit directory (tests)
func NewAt(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the root of the artifact layout
func (s *Store) BaseDir() string {
	return s.baseDir
}

// ParseDir returns (and creates) the directory for one parse record's artifacts
func (s *Store) ParseDir(parseID string) (string, error) {
	dir := filepath.Join(s.baseDir, "parses", parseID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create parse directory: %w", err)
	}
	return dir, nil
}

// GenerationDir returns (and creates) the directory for one session's artifacts
func (s *Store) GenerationDir(sessionID string) (string, error) {
	dir := filepath.Join(s.baseDir, "generations", sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create generation directory: %w", err)
	}
	return dir, nil
}

// SaveJSON marshals v and writes it to path, creating parent directories
func (s *Store) SaveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// LoadJSON reads path and unmarshals it into v
func (s *Store) LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return nil
}

// SaveBytes writes raw artifact bytes (container files) to path
func (s *Store) SaveBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// RemoveDir deletes an artifact directory tree, ignoring missing paths
func (s *Store) RemoveDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove artifact directory: %w", err)
	}
	return nil
}
