package walk

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubuntu/httm/internal/pathdata"
)

func TestRunDeliversDotEntriesAndChildren(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f1"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f2"), []byte("y"), 0o644))

	var got []string
	w := New(dir, pathdata.NewFilterDirs(), true)
	err := w.Run(SinkFunc(func(entries []pathdata.PathEntry) {
		for _, e := range entries {
			got = append(got, e.Path)
		}
	}))
	require.NoError(t, err)

	sort.Strings(got)
	require.Contains(t, got, filepath.Join(dir, "f1"))
	require.Contains(t, got, filepath.Join(dir, "sub"))
	require.Contains(t, got, filepath.Join(dir, "sub", "f2"))
}

func TestRunRespectsFilterDirs(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".zfs")
	require.NoError(t, os.Mkdir(hidden, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hidden, "snapshot"), []byte("x"), 0o644))

	var got []string
	w := New(dir, pathdata.NewFilterDirs(hidden), true)
	err := w.Run(SinkFunc(func(entries []pathdata.PathEntry) {
		for _, e := range entries {
			got = append(got, e.Path)
		}
	}))
	require.NoError(t, err)
	require.NotContains(t, got, filepath.Join(hidden, "snapshot"))
}

func TestRunNoHiddenExcludesDotfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".secret"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible"), []byte("x"), 0o644))

	var got []string
	w := New(dir, pathdata.NewFilterDirs(), true)
	w.NoHidden = true
	err := w.Run(SinkFunc(func(entries []pathdata.PathEntry) {
		for _, e := range entries {
			got = append(got, e.Path)
		}
	}))
	require.NoError(t, err)
	require.NotContains(t, got, filepath.Join(dir, ".secret"))
	require.Contains(t, got, filepath.Join(dir, "visible"))
}

func TestRunNoTraverseDoesNotFollowSymlinkedDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "realdir")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "inside"), []byte("x"), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	var got []string
	w := New(dir, pathdata.NewFilterDirs(), true)
	w.NoTraverse = true
	err := w.Run(SinkFunc(func(entries []pathdata.PathEntry) {
		for _, e := range entries {
			got = append(got, e.Path)
		}
	}))
	require.NoError(t, err)
	require.Contains(t, got, link)
	require.NotContains(t, got, filepath.Join(link, "inside"))
}

func TestRunBreaksSymlinkLoop(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// sub/loop points back at dir; following it forever would recurse
	// through ever-longer paths resolving to the same inodes.
	require.NoError(t, os.Symlink(dir, filepath.Join(sub, "loop")))

	var got []string
	w := New(dir, pathdata.NewFilterDirs(), true)
	err := w.Run(SinkFunc(func(entries []pathdata.PathEntry) {
		for _, e := range entries {
			got = append(got, e.Path)
		}
	}))
	require.NoError(t, err)
	require.NotContains(t, got, filepath.Join(sub, "loop", "sub"))
}

func TestHangUpStopsFurtherDescent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	var got []string
	w := New(dir, pathdata.NewFilterDirs(), true)
	w.HangUp()
	err := w.Run(SinkFunc(func(entries []pathdata.PathEntry) {
		for _, e := range entries {
			got = append(got, e.Path)
		}
	}))
	require.NoError(t, err)
	require.NotContains(t, got, filepath.Join(dir, "sub"))
}
