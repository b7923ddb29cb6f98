// Package fs provides a file system backed Storage for coachauth clients.
package fs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultAppName names the config directory used when no path is given
const DefaultAppName = "coachauth"

// Storage keeps items in a single JSON file, grouped by namespace so several
// backends can share one file. Every write goes straight to disk.
type Storage struct {
	mu        sync.RWMutex
	path      string
	namespace string
	items     map[string]map[string]string
}

// storageFile is the JSON structure stored on disk
type storageFile struct {
	Namespaces map[string]map[string]string `json:"namespaces"`
}

// DefaultPath returns ~/.config/coachauth/storage.json (or the platform equivalent)
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, DefaultAppName, "storage.json"), nil
}

// NewStorage opens the storage file at path. If path is empty, DefaultPath is used.
// namespace is usually the backend URL; it is reduced to scheme and host.
func NewStorage(path string, namespace string) (*Storage, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	ns, err := normalizeNamespace(namespace)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		path:      path,
		namespace: ns,
		items:     make(map[string]map[string]string),
	}

	// Load existing items if file exists
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// load reads items from disk
func (s *Storage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file storageFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse storage file: %w", err)
	}
	if file.Namespaces != nil {
		s.items = file.Namespaces
	}
	return nil
}

// normalizeNamespace turns URLs into scheme://host and leaves other names alone
func normalizeNamespace(namespace string) (string, error) {
	if namespace == "" {
		return "default", nil
	}
	u, err := url.Parse(namespace)
	if err != nil {
		return "", fmt.Errorf("invalid namespace URL: %w", err)
	}
	if u.Host == "" {
		return namespace, nil
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// GetItem returns the value stored under key, or nil if none
func (s *Storage) GetItem(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[s.namespace][key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

// SetItem stores value under key and saves the file
func (s *Storage) SetItem(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.items[s.namespace]
	created := ns == nil
	if created {
		ns = make(map[string]string)
		s.items[s.namespace] = ns
	}
	prev, had := ns[key]
	ns[key] = string(value)

	// Keep memory matching the file when the write fails
	if err := s.saveLocked(); err != nil {
		switch {
		case created:
			delete(s.items, s.namespace)
		case had:
			ns[key] = prev
		default:
			delete(ns, key)
		}
		return err
	}
	return nil
}

// RemoveItem deletes key and saves the file
func (s *Storage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.items[s.namespace]
	if _, ok := ns[key]; !ok {
		return nil
	}
	prev := ns[key]
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.items, s.namespace)
	}
	if err := s.saveLocked(); err != nil {
		ns[key] = prev
		s.items[s.namespace] = ns
		return err
	}
	return nil
}

// Keys returns the keys of this namespace in sorted order
func (s *Storage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items[s.namespace]))
	for k := range s.items[s.namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Namespaces lists every namespace present in the file
func (s *Storage) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.items))
	for ns := range s.items {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// saveLocked writes the file. Caller must hold s.mu
func (s *Storage) saveLocked() error {
	// Ensure directory exists with restricted permissions
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(storageFile{Namespaces: s.items}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage: %w", err)
	}
	return writeAtomicFile(s.path, data, 0600)
}

// Path returns the path to the storage file
func (s *Storage) Path() string {
	return s.path
}

// Namespace returns the namespace this storage reads and writes
func (s *Storage) Namespace() string {
	return s.namespace
}
