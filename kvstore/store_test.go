/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Load("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save("state", []byte(`{"a":1}`)))
	data, err := s.Load("state")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"a":1}`), data)

	// The store must not alias caller-owned slices.
	data[0] = 'X'
	data2, err := s.Load("state")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"a":1}`), data2)

	require.NoError(t, s.Remove("state"))
	_, err = s.Load("state")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Remove("state")) // removing absent key is not an error
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "state"))
	require.NoError(t, err)

	_, err = s.Load("ratekit.state")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save("ratekit.state", []byte(`{"requests":{}}`)))
	data, err := s.Load("ratekit.state")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"requests":{}}`), data)

	// Overwrite replaces the previous record.
	require.NoError(t, s.Save("ratekit.state", []byte(`{"requests":{"a:b":[1]}}`)))
	data, err = s.Load("ratekit.state")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"requests":{"a:b":[1]}}`), data)

	require.NoError(t, s.Remove("ratekit.state"))
	_, err = s.Load("ratekit.state")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Remove("ratekit.state"))
}

func TestFileStoreUnsafeKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	// Keys with path separators must not escape the store directory
	// and distinct keys must map to distinct files.
	require.NoError(t, s.Save("a/b", []byte("one")))
	require.NoError(t, s.Save("a_b", []byte("two")))

	data, err := s.Load("a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), data)

	data, err = s.Load("a_b")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), data)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Save("state", []byte("payload")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
