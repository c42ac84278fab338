package vault

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var _ Storage = (*FileStorage)(nil)

// FileStorage persists values as individual files under a directory.
//
// SECURITY: the stored blob is an encrypted credential, but file permissions
// still matter for the plaintext meta record and for defence in depth:
//   - files are created with 0600 (owner read/write only)
//   - the directory is created with 0700 (owner only)
type FileStorage struct {
	mu  sync.Mutex
	dir string
}

// NewFileStorage creates the directory if needed and returns a file-backed
// store rooted there.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("[NewFileStorage] dir is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "[NewFileStorage] MkdirAll")
	}
	return &FileStorage{dir: dir}, nil
}

// Set stores or replaces the value for a key
func (s *FileStorage) Set(key, value string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, []byte(value), 0600); err != nil {
		return errors.Wrap(err, "[FileStorage.Set] WriteFile")
	}
	return nil
}

// Get retrieves the value for a key
func (s *FileStorage) Get(key string) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", KeyNotFoundErr
	}
	if err != nil {
		return "", errors.Wrap(err, "[FileStorage.Get] ReadFile")
	}
	return string(data), nil
}

// Delete removes a key
func (s *FileStorage) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileStorage.Delete] Remove")
	}
	return nil
}

func (s *FileStorage) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return "", errors.Errorf("[FileStorage] invalid key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}
