package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-ranker/internal/store"
)

func TestListAndFetchOnMemFs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("drop", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "drop/b.PDF", []byte("pdf"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "drop/a.txt", []byte("text"), 0o644))
	require.NoError(t, fsys.MkdirAll("drop/nested", 0o755))

	s := New(fsys)
	entries, err := s.List(context.Background(), "drop")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "drop/a.txt", entries[0].ID)
	assert.Equal(t, "txt", entries[0].Extension)
	assert.Equal(t, "pdf", entries[1].Extension)
	assert.True(t, entries[2].IsContainer)

	data, err := s.Fetch(context.Background(), "drop/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text", string(data))
}

func TestMissingPathsArePermanent(t *testing.T) {
	s := New(afero.NewMemMapFs())

	_, err := s.List(context.Background(), "nope")
	require.Error(t, err)
	assert.False(t, store.IsTemporary(err))

	_, err = s.Fetch(context.Background(), "nope.txt")
	require.Error(t, err)
	assert.False(t, store.IsTemporary(err))
}

func TestSymlinkedDirectoryIsIdentifiedByTarget(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	if err := os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "a", "loop")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	s := NewOS()
	entries, err := s.List(context.Background(), filepath.ToSlash(filepath.Join(dir, "a")))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "loop", entries[0].Name)
	assert.True(t, entries[0].IsContainer)
	assert.Equal(t, filepath.ToSlash(filepath.Join(dir, "a")), entries[0].ID)
}

func TestRoot(t *testing.T) {
	assert.Equal(t, ".", Root(""))
	assert.Equal(t, "cv/drop", Root(" cv/drop/ "))
}
