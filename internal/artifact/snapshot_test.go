package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeListsTopLevelFilesOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOP_x.xlsx"), nil, 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "deep.xlsx"), nil, 0o600))

	snap, err := Take(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOP_x.xlsx", "a.txt"}, snap.Names())
	assert.Equal(t, 2, snap.Len())
	assert.True(t, snap.Has("a.txt"))
	assert.False(t, snap.Has("nested"))
	assert.False(t, snap.Has("deep.xlsx"))
}

func TestTakeMissingDir(t *testing.T) {
	t.Parallel()

	_, err := Take(filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
}

func TestSnapshotIsImmutable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	before, err := Take(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.xlsx"), nil, 0o600))
	assert.Zero(t, before.Len())
}

func TestDiff(t *testing.T) {
	t.Parallel()

	before := NewSnapshot("a.txt", "old.xlsx")
	after := NewSnapshot("a.txt", "old.xlsx", "z.tmp", "SOP_x.xlsx", "b.xlsx")
	assert.Equal(t, []string{"SOP_x.xlsx", "b.xlsx", "z.tmp"}, Diff(before, after))
	assert.Empty(t, Diff(after, after))
	// removals are not additions
	assert.Empty(t, Diff(after, before))
}
