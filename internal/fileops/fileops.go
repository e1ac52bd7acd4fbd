// Package fileops implements the low-level file operations: attribute
// preserving copy, recursive remove, and metadata equivalence checks shared
// by the roll-forward orchestrator and the restore CLI paths.
package fileops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// CopyDirect copies src to dst, recreating symlinks rather than following
// them, creating dst's parent (and copying its attributes) if missing, and
// finally preserving attributes on dst. If dst exists and force is set, it
// is removed first. Unless noClones is set, a regular file is first
// attempted as a zero-copy FICLONE reflink (same as httm's default restore
// behavior on filesystems that support it) before falling back to the
// block-aligned copy.
func CopyDirect(src, dst string, force bool, noClones bool) error {
	if force {
		if _, err := os.Lstat(dst); err == nil {
			if err := RecursiveRemove(dst); err != nil {
				return fmt.Errorf("removing existing %q: %w", dst, err)
			}
		}
	}

	parent := filepath.Dir(dst)
	if _, err := os.Stat(parent); os.IsNotExist(err) {
		srcParent := filepath.Dir(src)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
		if fi, err := os.Lstat(srcParent); err == nil {
			_ = PreserveAttrs(srcParent, parent, fi)
		}
	}

	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if srcInfo.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, dst); err != nil {
			return err
		}
		return PreserveAttrs(src, dst, srcInfo)
	}

	if srcInfo.IsDir() {
		if err := os.MkdirAll(dst, srcInfo.Mode().Perm()); err != nil {
			return err
		}
		return PreserveAttrs(src, dst, srcInfo)
	}

	if !noClones && tryReflinkCopy(src, dst, srcInfo) {
		return PreserveAttrs(src, dst, srcInfo)
	}

	if err := copyFileContents(src, dst, srcInfo); err != nil {
		return err
	}
	return PreserveAttrs(src, dst, srcInfo)
}

// CopyOnly copies src to dst like CopyDirect, but without the PreserveAttrs
// pass: dst is created with src's permission bits (subject to the umask),
// while ownership, timestamps and extended attributes are not carried over.
// Used by the copy-only restore mode, where the restored file should look
// newly created.
func CopyOnly(src, dst string, force bool, noClones bool) error {
	if force {
		if _, err := os.Lstat(dst); err == nil {
			if err := RecursiveRemove(dst); err != nil {
				return fmt.Errorf("removing existing %q: %w", dst, err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if srcInfo.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	if srcInfo.IsDir() {
		return os.MkdirAll(dst, srcInfo.Mode().Perm())
	}
	if !noClones && tryReflinkCopy(src, dst, srcInfo) {
		return nil
	}
	return copyFileContents(src, dst, srcInfo)
}

// tryReflinkCopy attempts a zero-copy FICLONE reflink of src onto a freshly
// created dst, reporting whether it succeeded. Failure (filesystem doesn't
// support it, src and dst are on different filesystems, etc.) is expected
// and the caller falls back to a regular copy.
func tryReflinkCopy(src, dst string, srcInfo os.FileInfo) bool {
	in, err := os.Open(src)
	if err != nil {
		return false
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return false
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		_ = os.Remove(dst)
		return false
	}
	return true
}

// copyFileContents performs a block-aligned copy, rewriting only blocks
// that differ from an existing destination so large, mostly-unchanged
// files are restored quickly and sparse regions are preserved.
func copyFileContents(src, dst string, srcInfo os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	const blockSize = 64 * 1024
	srcBuf := make([]byte, blockSize)
	dstBuf := make([]byte, blockSize)
	var offset int64
	for {
		n, rerr := io.ReadFull(in, srcBuf)
		if n == 0 && rerr != nil {
			break
		}
		dn, _ := out.ReadAt(dstBuf[:n], offset)
		if dn != n || string(dstBuf[:n]) != string(srcBuf[:n]) {
			if _, err := out.WriteAt(srcBuf[:n], offset); err != nil {
				return err
			}
		}
		offset += int64(n)
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return out.Truncate(offset)
}

// RecursiveRemove removes path post-order: files and symlinks are unlinked,
// directories rmdir'd after their children.
func RecursiveRemove(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !fi.IsDir() {
		return os.Remove(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("reading %q for removal: %w", path, err)
	}
	for _, e := range entries {
		if err := RecursiveRemove(filepath.Join(path, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(path)
}

// PreserveAttrs copies mode, ownership (best effort), mtime/atime and
// extended attributes from src to dst. A failed chown is returned as an
// error only when running as root; unprivileged, it is ignored and the
// remaining attributes are still copied.
func PreserveAttrs(src, dst string, srcInfo os.FileInfo) error {
	if srcInfo == nil {
		var err error
		srcInfo, err = os.Lstat(src)
		if err != nil {
			return err
		}
	}

	isSymlink := srcInfo.Mode()&os.ModeSymlink != 0

	if sys, ok := srcInfo.Sys().(*syscall.Stat_t); ok {
		if err := unix.Lchown(dst, int(sys.Uid), int(sys.Gid)); err != nil && os.Geteuid() == 0 {
			return fmt.Errorf("chown %q: %w", dst, err)
		}
	}

	if !isSymlink {
		if err := os.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
			return err
		}
	}

	mtime := srcInfo.ModTime()
	atime := mtime
	if sys, ok := srcInfo.Sys().(*syscall.Stat_t); ok {
		atime = time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
	}
	tv := []unix.Timeval{
		{Sec: atime.Unix(), Usec: int64(atime.Nanosecond() / 1000)},
		{Sec: mtime.Unix(), Usec: int64(mtime.Nanosecond() / 1000)},
	}
	_ = unix.Lutimes(dst, tv)

	copyXattrs(src, dst)

	return nil
}

func copyXattrs(src, dst string) {
	size, err := unix.Llistxattr(src, nil)
	if err != nil || size == 0 {
		return
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(src, buf)
	if err != nil {
		return
	}
	for _, name := range splitNames(buf[:n]) {
		vsize, err := unix.Lgetxattr(src, name, nil)
		if err != nil || vsize == 0 {
			continue
		}
		val := make([]byte, vsize)
		if _, err := unix.Lgetxattr(src, name, val); err != nil {
			continue
		}
		_ = unix.Lsetxattr(dst, name, val, 0)
	}
}

func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

// IsMetadataSame compares size, mtime, mode, uid, gid and link count for
// non-directory paths, and mode/uid/gid only for directories (content-rewrite noise such
// as mtime/size is expected there).
func IsMetadataSame(a, b string) (bool, error) {
	fa, err := os.Lstat(a)
	if err != nil {
		return false, err
	}
	fb, err := os.Lstat(b)
	if err != nil {
		return false, err
	}

	if fa.IsDir() != fb.IsDir() {
		return false, nil
	}
	if fa.Mode().Perm() != fb.Mode().Perm() {
		return false, nil
	}

	sa, aok := fa.Sys().(*syscall.Stat_t)
	sb, bok := fb.Sys().(*syscall.Stat_t)
	if aok && bok {
		if sa.Uid != sb.Uid || sa.Gid != sb.Gid {
			return false, nil
		}
	}

	if fa.IsDir() {
		return true, nil
	}

	if fa.Size() != fb.Size() {
		return false, nil
	}
	if !fa.ModTime().Equal(fb.ModTime()) {
		return false, nil
	}
	if aok && bok && sa.Nlink != sb.Nlink {
		return false, nil
	}
	return true, nil
}

// HardLink creates newPath as a hard link to existingPath, short-circuiting
// if they already refer to the same inode.
func HardLink(existingPath, newPath string) error {
	if same, err := sameInode(existingPath, newPath); err == nil && same {
		return nil
	}
	if _, err := os.Lstat(newPath); err == nil {
		if err := os.Remove(newPath); err != nil {
			return err
		}
	}
	return os.Link(existingPath, newPath)
}

func sameInode(a, b string) (bool, error) {
	fa, err := os.Lstat(a)
	if err != nil {
		return false, err
	}
	fb, err := os.Lstat(b)
	if err != nil {
		return false, err
	}
	sa, aok := fa.Sys().(*syscall.Stat_t)
	sb, bok := fb.Sys().(*syscall.Stat_t)
	if !aok || !bok {
		return false, nil
	}
	return sa.Ino == sb.Ino && sa.Dev == sb.Dev, nil
}

// SortedReverse sorts paths lexicographically and returns them reversed, so
// a caller walking bottom-up (children before parents) can rely on plain
// string order.
func SortedReverse(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
