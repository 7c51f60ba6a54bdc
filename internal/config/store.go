package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/flowchat-ai/flowd/internal/errors"
)

// File permissions for the config file. It can carry credentials in env vars
// and request headers, so it is not world-readable.
const configFileMode os.FileMode = 0o600

// fileContents is the on-disk TOML shape of the store.
type fileContents struct {
	Servers []ServerEntry `toml:"servers"`
}

// FileStore persists server configurations as TOML rows in a single file.
// All operations re-read the file so that out-of-process edits are observed.
// NewFileStore should be used to create instances of FileStore.
// It is safe for concurrent use by multiple goroutines.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the TOML file at path.
// The file does not need to exist yet; see Init.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", errors.ErrConfigLoadFailed)
	}

	return &FileStore{path: path}, nil
}

// Init creates the skeleton configuration file for a new flowd project.
func (s *FileStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("%s already exists", s.path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}

	content := `servers = []`

	if err := os.WriteFile(s.path, []byte(content), configFileMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}

	return nil
}

// LoadAll returns the enabled server configurations keyed by name.
// Disabled rows are omitted.
func (s *FileStore) LoadAll() (map[string]ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return nil, err
	}

	configs := make(map[string]ServerConfig, len(contents.Servers))
	for _, entry := range contents.Servers {
		if !entry.Enabled {
			continue
		}
		configs[entry.Name] = entry.Config
	}

	return configs, nil
}

// Entries returns every persisted row, enabled or not.
func (s *FileStore) Entries() ([]ServerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return nil, err
	}

	return contents.Servers, nil
}

// Save upserts the configuration for the named server.
// A new row is enabled by default; an existing row keeps its enabled state.
func (s *FileStore) Save(name string, cfg ServerConfig) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: server name cannot be empty", errors.ErrConfigSaveFailed)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigSaveFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}

	updated := false
	for i, entry := range contents.Servers {
		if entry.Name == name {
			contents.Servers[i].Config = cfg
			updated = true
			break
		}
	}
	if !updated {
		contents.Servers = append(contents.Servers, ServerEntry{
			Name:    name,
			Enabled: true,
			Config:  cfg,
		})
	}

	return s.write(contents)
}

// SetEnabled toggles a persisted row without touching its configuration.
func (s *FileStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}

	for i, entry := range contents.Servers {
		if entry.Name == name {
			contents.Servers[i].Enabled = enabled
			return s.write(contents)
		}
	}

	return fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
}

// Delete removes the row for the named server. Deleting an absent name is a no-op.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}

	filtered := make([]ServerEntry, 0, len(contents.Servers))
	for _, entry := range contents.Servers {
		if entry.Name != name {
			filtered = append(filtered, entry)
		}
	}

	if len(filtered) == len(contents.Servers) {
		return nil
	}
	contents.Servers = filtered

	return s.write(contents)
}

// Has reports whether a row exists for the named server, enabled or not.
func (s *FileStore) Has(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return false, err
	}

	for _, entry := range contents.Servers {
		if entry.Name == name {
			return true, nil
		}
	}

	return false, nil
}

// read loads and validates the file. A missing file is an empty store.
// Callers must hold s.mu.
func (s *FileStore) read() (*fileContents, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return &fileContents{}, nil
		}
		return nil, fmt.Errorf("%w: failed to stat config file (%s): %w", errors.ErrConfigLoadFailed, s.path, err)
	}

	var contents fileContents
	if _, err := toml.DecodeFile(s.path, &contents); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", errors.ErrConfigLoadFailed, s.path, err)
	}

	seen := make(map[string]struct{}, len(contents.Servers))
	for _, entry := range contents.Servers {
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrConfigLoadFailed, err)
		}
		if _, dup := seen[entry.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate server name %q", errors.ErrConfigLoadFailed, entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}

	return &contents, nil
}

// write persists the file. Callers must hold s.mu.
func (s *FileStore) write(contents *fileContents) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(contents); err != nil {
		return fmt.Errorf("%w: failed to encode config: %w", errors.ErrConfigSaveFailed, err)
	}

	if err := os.WriteFile(s.path, buf.Bytes(), configFileMode); err != nil {
		return fmt.Errorf("%w: failed to write config file (%s): %w", errors.ErrConfigSaveFailed, s.path, err)
	}

	return nil
}
