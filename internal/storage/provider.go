// Package storage defines the key-value abstraction the note collection is
// persisted through.
package storage

// Provider is the interface for key-value persistence.
type Provider interface {
	// Get returns the value stored under key, or an error wrapping
	// apperr.ErrNotFound when the key is absent.
	Get(key string) ([]byte, error)
	// Put atomically replaces the value stored under key.
	Put(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys lists every stored key in lexical order.
	Keys() ([]string, error)
}
