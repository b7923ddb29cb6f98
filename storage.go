package coachauth

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Storage keys used by the CredentialStore
const (
	AuthStorageKey = "auth"
	UserStorageKey = "user"
)

// Storage is a durable key-value store scoped to one application instance,
// the equivalent of a browser's local storage.
type Storage interface {
	// GetItem returns the value stored under key.
	// Returns nil, nil if nothing is stored under key.
	GetItem(key string) ([]byte, error)

	// SetItem stores value under key, replacing any previous value
	SetItem(key string, value []byte) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error

	// Keys lists all stored keys
	Keys() ([]string, error)
}

// MemoryStorage is a process-local Storage. Useful for tests and short lived tools.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (m *MemoryStorage) GetItem(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) SetItem(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStorage) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// CredentialStore persists the credential pair and user profile as JSON
// under two keys of a Storage. It performs no validity checks.
type CredentialStore struct {
	storage Storage
}

// NewCredentialStore wraps a Storage. A nil storage gets a MemoryStorage.
func NewCredentialStore(storage Storage) *CredentialStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &CredentialStore{storage: storage}
}

// Storage returns the underlying key-value store
func (c *CredentialStore) Storage() Storage {
	return c.storage
}

// Credentials returns the stored pair, or nil if none (or only a partial pair) is stored
func (c *CredentialStore) Credentials() (*CredentialPair, error) {
	var pair CredentialPair
	found, err := c.read(AuthStorageKey, &pair)
	if err != nil || !found {
		return nil, err
	}
	if !pair.Complete() {
		return nil, nil
	}
	return &pair, nil
}

// SetCredentials replaces the stored pair
func (c *CredentialStore) SetCredentials(pair *CredentialPair) error {
	return c.write(AuthStorageKey, pair)
}

// ClearCredentials removes the stored pair
func (c *CredentialStore) ClearCredentials() error {
	return c.storage.RemoveItem(AuthStorageKey)
}

// Profile returns the stored user profile, or nil if none is stored
func (c *CredentialStore) Profile() (*UserProfile, error) {
	var profile UserProfile
	found, err := c.read(UserStorageKey, &profile)
	if err != nil || !found {
		return nil, err
	}
	return &profile, nil
}

// SetProfile replaces the stored profile
func (c *CredentialStore) SetProfile(profile *UserProfile) error {
	return c.write(UserStorageKey, profile)
}

// ClearProfile removes the stored profile
func (c *CredentialStore) ClearProfile() error {
	return c.storage.RemoveItem(UserStorageKey)
}

// Clear removes both the pair and the profile
func (c *CredentialStore) Clear() error {
	if err := c.ClearCredentials(); err != nil {
		return err
	}
	return c.ClearProfile()
}

func (c *CredentialStore) read(key string, out any) (bool, error) {
	data, err := c.storage.GetItem(key)
	if err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if len(data) == 0 || string(data) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse %q: %w", key, err)
	}
	return true, nil
}

func (c *CredentialStore) write(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if err := c.storage.SetItem(key, data); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}
