// Package hardlink builds the hard-link topology map of a subtree: an
// iterative walk over a subtree grouping regular files by inode, taken from
// symlink-metadata so the map is stable across runs regardless of whether
// any path happens to be a symlink.
package hardlink

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Map is the {link_map, singletons} structure of the data model.
type Map struct {
	// LinkMap holds inodes with two or more surviving paths.
	LinkMap map[uint64][]string
	// Singletons holds inodes with exactly one path.
	Singletons map[string]struct{}
}

// Build walks root iteratively (depth-first, via a LIFO work stack), considering regular
// files only, and groups them by inode.
func Build(root string) (*Map, error) {
	byIno := map[uint64][]string{}

	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			if e.IsDir() {
				queue = append(queue, full)
				continue
			}
			fi, err := os.Lstat(full)
			if err != nil {
				continue
			}
			if !fi.Mode().IsRegular() {
				continue
			}
			sys, ok := fi.Sys().(*syscall.Stat_t)
			if !ok {
				continue
			}
			byIno[sys.Ino] = append(byIno[sys.Ino], full)
		}
	}

	m := &Map{LinkMap: map[uint64][]string{}, Singletons: map[string]struct{}{}}
	for ino, paths := range byIno {
		if len(paths) >= 2 {
			m.LinkMap[ino] = paths
		} else {
			m.Singletons[paths[0]] = struct{}{}
		}
	}
	return m, nil
}

// BuildBoth builds the snapshot-side and live-side maps concurrently; both
// must complete before roll-forward starts mutating anything.
func BuildBoth(ctx context.Context, snapRoot, liveRoot string) (snap, live *Map, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var e error
		snap, e = Build(snapRoot)
		return e
	})
	g.Go(func() error {
		var e error
		live, e = Build(liveRoot)
		return e
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return snap, live, nil
}
