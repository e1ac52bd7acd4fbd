package rollforward

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyOneRecopiesOnMismatch(t *testing.T) {
	snapRoot := t.TempDir()
	liveRoot := t.TempDir()

	snapPath := filepath.Join(snapRoot, "file.txt")
	require.NoError(t, os.WriteFile(snapPath, []byte("snapshot-content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(liveRoot, "file.txt"), []byte("stale"), 0o644))

	// Align the snapshot's mtime to microsecond resolution so the post-copy
	// re-check (which compares exact ModTime, and Lutimes only has
	// microsecond resolution) converges instead of tripping the
	// sub-microsecond mismatch exercised by the test below.
	alignedMtime := time.Unix(1700000000, 123456000)
	require.NoError(t, os.Chtimes(snapPath, alignedMtime, alignedMtime))

	require.NoError(t, verifyOne("file.txt", snapRoot, liveRoot, false, true))

	got, err := os.ReadFile(filepath.Join(liveRoot, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "snapshot-content", string(got))
}

// TestVerifyOneReturnsMismatchWhenCopyCannotConverge forces a mismatch that
// survives the re-copy: the snapshot file's mtime carries a sub-microsecond
// remainder that Lutimes (microsecond resolution) cannot reproduce exactly,
// so IsMetadataSame's exact ModTime comparison fails again after the copy.
func TestVerifyOneReturnsMismatchWhenCopyCannotConverge(t *testing.T) {
	snapRoot := t.TempDir()
	liveRoot := t.TempDir()

	snapPath := filepath.Join(snapRoot, "file.txt")
	livePath := filepath.Join(liveRoot, "file.txt")
	require.NoError(t, os.WriteFile(snapPath, []byte("snapshot-content"), 0o644))
	require.NoError(t, os.WriteFile(livePath, []byte("stale"), 0o644))

	preciseMtime := time.Unix(1700000000, 123456789)
	require.NoError(t, os.Chtimes(snapPath, preciseMtime, preciseMtime))

	err := verifyOne("file.txt", snapRoot, liveRoot, false, true)
	require.Error(t, err)
	_, ok := err.(mismatchError)
	require.True(t, ok, "expected a mismatchError, got %T: %v", err, err)
}

func TestVerifyFromListPropagatesMismatchError(t *testing.T) {
	snapRoot := t.TempDir()
	liveRoot := t.TempDir()

	snapPath := filepath.Join(snapRoot, "file.txt")
	livePath := filepath.Join(liveRoot, "file.txt")
	require.NoError(t, os.WriteFile(snapPath, []byte("snapshot-content"), 0o644))
	require.NoError(t, os.WriteFile(livePath, []byte("stale"), 0o644))

	preciseMtime := time.Unix(1700000000, 123456789)
	require.NoError(t, os.Chtimes(snapPath, preciseMtime, preciseMtime))

	err := verifyFromList([]string{"file.txt"}, nil, snapRoot, liveRoot, true)
	require.Error(t, err)
	_, ok := err.(mismatchError)
	require.True(t, ok, "expected a mismatchError, got %T: %v", err, err)
}

func TestVerifyOneCreatesMissingLiveFileFromSnapshot(t *testing.T) {
	snapRoot := t.TempDir()
	liveRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(snapRoot, "new.txt"), []byte("from snapshot"), 0o644))

	require.NoError(t, verifyOne("new.txt", snapRoot, liveRoot, false, true))

	got, err := os.ReadFile(filepath.Join(liveRoot, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "from snapshot", string(got))
}

func TestListSubtreeSeparatesFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("y"), 0o644))

	files, dirs, err := listSubtree(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"top.txt", filepath.Join("sub", "nested.txt")}, files)
	require.ElementsMatch(t, []string{"sub"}, dirs)
}
