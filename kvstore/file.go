/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package kvstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
)

// FileStore is a Store implementation that keeps one file per key inside a
// single directory. Writes go through a uniquely named temporary file and an
// atomic rename, so a concurrent reader never observes a partially written
// record. Two processes writing the same key race with last-write-wins
// semantics, which matches the limiter's best-effort persistence contract.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed key-value store rooted at dir.
// The directory is created if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("kvstore: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load implements the Store interface.
func (s *FileStore) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record %q: %w", key, err)
	}
	return data, nil
}

// Save implements the Store interface.
func (s *FileStore) Save(key string, data []byte) error {
	path := s.pathFor(key)
	tmp := path + "." + xid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit record %q: %w", key, err)
	}
	return nil
}

// Remove implements the Store interface.
func (s *FileStore) Remove(key string) error {
	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record %q: %w", key, err)
	}
	return nil
}

// pathFor maps a storage key to a file name. Keys are expected to be short
// identifiers like "ratekit.state"; anything unsafe for a file name is
// hex-escaped so distinct keys never collide on disk.
func (s *FileStore) pathFor(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteString(hex.EncodeToString([]byte{c}))
		}
	}
	return filepath.Join(s.dir, b.String()+".json")
}
