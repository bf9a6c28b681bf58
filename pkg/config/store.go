package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store provides persistence for diagnostic configuration.
type Store interface {
	// Load loads the configuration from disk
	Load() error

	// Save saves the configuration to disk
	Save() error

	// Get returns the current configuration snapshot
	Get() DiagnosticConfig

	// Set replaces the configuration snapshot
	Set(cfg DiagnosticConfig)
}

// FileStore implements Store using a YAML file.
type FileStore struct {
	path     string
	cfg      DiagnosticConfig
	mu       sync.RWMutex
	modified bool
}

// NewFileStore creates a new file-based configuration store.
// If path is empty, defaults to ~/.pagelens/config.yaml
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".pagelens", "config.yaml")
	}

	store := &FileStore{
		path: path,
		cfg:  Default(),
	}

	// Try to load existing config, but don't fail if it doesn't exist
	if err := store.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	return store, nil
}

// Load loads the configuration from disk. A missing file leaves the
// defaults in place.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cfg = Default()
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DiagnosticConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	if cfg.Level != "" {
		if _, err := ParseLevel(string(cfg.Level)); err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}
	}

	s.cfg = Default().Merge(cfg)
	s.modified = false
	return nil
}

// Save saves the configuration to disk.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial
	// config.
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.modified = false
	return nil
}

// Get returns the current configuration snapshot.
func (s *FileStore) Get() DiagnosticConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration snapshot.
func (s *FileStore) Set(cfg DiagnosticConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.modified = true
}

// IsModified returns true if the store has unsaved changes.
func (s *FileStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}
