package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docsession/internal/store"
)

// OpenStore opens a store in a fresh temp directory and closes it when
// the test ends.
func OpenStore(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err, "open test store")
	t.Cleanup(func() { s.Close() })
	return s
}
