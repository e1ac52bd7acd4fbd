package fsinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubuntu/httm/internal/pathdata"
)

func TestResolveResticLatestFollowsSymlinkToSnapshotDir(t *testing.T) {
	repo := t.TempDir()
	snap := filepath.Join(repo, "snapshots", "abcd1234")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	require.NoError(t, os.Symlink(snap, filepath.Join(repo, "latest")))

	fst, resolved := resolveResticLatest(repo, false)
	require.Equal(t, pathdata.Restic, fst.Kind)
	require.Equal(t, snap, resolved)
}

func TestResolveResticLatestToleratesBrokenSymlink(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(repo, "nonexistent"), filepath.Join(repo, "latest")))

	_, resolved := resolveResticLatest(repo, false)
	require.Equal(t, repo, resolved)
}

func TestResolveResticLatestRepoModeReturnsRepoRoot(t *testing.T) {
	repo := t.TempDir()
	fst, resolved := resolveResticLatest(repo, true)
	require.Equal(t, pathdata.Restic, fst.Kind)
	require.Equal(t, repo, resolved)
	require.Equal(t, []string{repo}, fst.Restic.Repos)
}
