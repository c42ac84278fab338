package vault

import "errors"

// Storage keys used by the vault. No other keys belong to this subsystem.
const (
	BlobKey = "session.blob"
	MetaKey = "session.meta"
)

// KeyNotFoundErr is returned by Storage.Get when the key has no value.
var KeyNotFoundErr = errors.New("storage key not found")

// Storage is the page-scoped key-value store the vault persists into.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Set stores or replaces the value for a key
	Set(key, value string) error

	// Get retrieves the value for a key, or KeyNotFoundErr
	Get(key string) (string, error)

	// Delete removes a key; deleting an absent key is not an error
	Delete(key string) error
}
