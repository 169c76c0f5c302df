package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "marker")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestExistsAndNonEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	ok, err := Exists(empty)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NonEmpty(empty)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Exists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.hcl"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), nil, 0o644))

	files, err := FindFilesByExtension(dir, ".hcl")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.hcl"), filepath.Join(dir, "sub", "b.hcl")}, files)
}
