package fileops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCopyDirectCopiesRegularFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "sub", "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, CopyDirect(src, dst, false, true))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestCopyDirectRecreatesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	dst := filepath.Join(dir, "link-copy")
	require.NoError(t, CopyDirect(link, dst, false, true))

	fi, err := os.Lstat(dst)
	require.NoError(t, err)
	require.True(t, fi.Mode()&os.ModeSymlink != 0)

	got, err := os.Readlink(dst)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestCopyDirectAllowsReflinkAttempt(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	// noClones=false: a FICLONE reflink is attempted first and, on this
	// filesystem, may or may not succeed; either way the copy completes
	// with identical content, from the reflink or from the block-copy
	// fallback.
	require.NoError(t, CopyDirect(src, dst, false, false))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestCopyOnlyDoesNotPreserveModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	require.NoError(t, CopyOnly(src, dst, false, true))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))

	// The restored file's mtime is now, not the source's: attributes are
	// deliberately not carried over.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(src, old, old))
	dst2 := filepath.Join(dir, "dst2")
	require.NoError(t, CopyOnly(src, dst2, false, true))
	dstInfo, err := os.Lstat(dst2)
	require.NoError(t, err)
	require.False(t, dstInfo.ModTime().Equal(old))
}

func TestRecursiveRemove(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0o644))

	require.NoError(t, RecursiveRemove(filepath.Join(dir, "a")))

	_, err := os.Stat(filepath.Join(dir, "a"))
	require.True(t, os.IsNotExist(err))
}

func TestIsMetadataSameDetectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("short"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("a much longer payload"), 0o644))

	same, err := IsMetadataSame(a, b)
	require.NoError(t, err)
	require.False(t, same)
}

func TestHardLinkIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	b := filepath.Join(dir, "b")

	require.NoError(t, HardLink(a, b))
	require.NoError(t, HardLink(a, b)) // already the same inode, must not fail

	fa, _ := os.Lstat(a)
	fb, _ := os.Lstat(b)
	require.True(t, os.SameFile(fa, fb))
}

func TestSortedReverse(t *testing.T) {
	out := SortedReverse([]string{"a", "c", "b"})
	require.Equal(t, []string{"c", "b", "a"}, out)
}
