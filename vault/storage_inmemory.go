package vault

import (
	"errors"
	"sync"
)

var _ Storage = (*InMemoryStorage)(nil)

// InMemoryStorage is a thread-safe in-memory implementation of Storage.
// Each instance models one page-scoped store, so two vaults given two
// instances cannot see each other's credential.
type InMemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewInMemoryStorage creates a new empty in-memory store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		values: make(map[string]string),
	}
}

// Set stores or replaces the value for a key
func (s *InMemoryStorage) Set(key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Get retrieves the value for a key
func (s *InMemoryStorage) Get(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return "", KeyNotFoundErr
	}
	return value, nil
}

// Delete removes a key
func (s *InMemoryStorage) Delete(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
