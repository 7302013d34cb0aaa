/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

// Package kvstore provides a minimal key-value persistence abstraction
// used by the rate limiter to keep its admission state across restarts.
// It plays the role a browser's origin-scoped storage plays for web clients:
// a single opaque record per key, read and written synchronously.
package kvstore

import "errors"

// ErrNotFound is returned by Load when the key has no stored record.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a durable key-value store for small opaque records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the record stored under key.
	// It returns ErrNotFound if the key has never been saved or was removed.
	Load(key string) ([]byte, error)

	// Save stores the record under key, replacing any previous record.
	Save(key string, data []byte) error

	// Remove deletes the record stored under key.
	// Removing an absent key is not an error.
	Remove(key string) error
}
