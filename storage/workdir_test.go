package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkingDirectory_Creates(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "wd")

	wd, err := NewWorkingDirectory(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(wd.Path()))
	assert.Equal(t, filepath.Join(root, "hattivatti.db"), wd.File("hattivatti.db"))
}

func TestJobDir_RejectsUnsafeIDs(t *testing.T) {
	wd, err := NewWorkingDirectory(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../escape", "a/b", `a\b`} {
		_, err := wd.JobDir(id)
		assert.True(t, errors.Is(err, ErrInvalidJobID), "id %q", id)
	}

	dir, err := wd.JobDir("INT_0001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd.Path(), "INT_0001"), dir)
}

func TestPrepareJobDir_RecreatesExisting(t *testing.T) {
	wd, err := NewWorkingDirectory(t.TempDir())
	require.NoError(t, err)

	dir, err := wd.PrepareJobDir("INT_0001")
	require.NoError(t, err)
	stale := filepath.Join(dir, "12345.out")
	require.NoError(t, os.WriteFile(stale, []byte("old run"), 0o644))

	again, err := wd.PrepareJobDir("INT_0001")
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	entries, err := os.ReadDir(again)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
