package fsinfo

import (
	"os"
	"path/filepath"

	"github.com/ubuntu/httm/internal/pathdata"
)

// resolveResticLatest resolves a restic repository's "latest" symlink to an
// absolute path, tolerating a missing target (the symlink may point at a
// snapshot that has since been forgotten). When repoMode is true the
// resolved path is the repo root itself rather than the latest snapshot, to
// match alt-store Restic mode where every snapshot in the repo matters, not
// just the newest.
func resolveResticLatest(source string, repoMode bool) (pathdata.FSType, string) {
	latest := filepath.Join(source, "latest")
	resolved, err := filepath.EvalSymlinks(latest)
	if err != nil {
		// Tolerate a missing/broken "latest" symlink: fall back to the
		// literal path so classification can still proceed.
		resolved = latest
	}
	if repoMode {
		resolved = source
		return pathdata.FSType{Kind: pathdata.Restic, Restic: &pathdata.ResticData{Repos: []string{source}}}, resolved
	}
	if fi, err := os.Lstat(resolved); err == nil && fi.IsDir() {
		return pathdata.FSType{Kind: pathdata.Restic, Restic: &pathdata.ResticData{Repos: []string{source}}}, resolved
	}
	return pathdata.FSType{Kind: pathdata.Restic, Restic: &pathdata.ResticData{Repos: []string{source}}}, filepath.Dir(resolved)
}
