// Package deleted reconstructs deleted files from snapshot history:
// emitting phantom entries for names present in some snapshot version of a
// live directory but absent from the live directory itself, with optional
// recursion into phantom subdirectories.
package deleted

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ubuntu/httm/internal/config"
	"github.com/ubuntu/httm/internal/pathdata"
	"github.com/ubuntu/httm/internal/pathresolve"
	"github.com/ubuntu/httm/internal/walk"
)

// maxDeletedWorkers bounds the deleted-side task pool so reconstruction
// never starves live enumeration of CPU.
const maxDeletedWorkers = 2

// Reconstructor spawns one reconstruction task per live directory the
// walker visits, honoring the configured depth policy. Tasks run on a
// bounded errgroup.Group so deleted-side work never outruns the small,
// fixed worker count the live walker expects to share CPU with.
type Reconstructor struct {
	Resolver  *pathresolve.Resolver
	SnapIndex pathdata.SnapIndex
	Depth     config.DeletedMode
	Sink      walk.Sink

	initOnce sync.Once
	g        *errgroup.Group
}

func (r *Reconstructor) init() {
	r.initOnce.Do(func() {
		r.g = &errgroup.Group{}
		r.g.SetLimit(maxDeletedWorkers)
	})
}

// Spawn implements walk.DeletedSpawner.
func (r *Reconstructor) Spawn(dir string) {
	r.init()
	r.g.Go(func() error {
		entries, err := r.reconstruct(dir)
		if err != nil {
			return nil // per-directory errors never abort the reconstructor
		}
		if len(entries) > 0 {
			r.Sink.Deliver(entries)
		}
		return nil
	})
}

// Wait implements walk.DeletedSpawner.
func (r *Reconstructor) Wait() {
	r.init()
	_ = r.g.Wait()
}

// reconstruct computes the deleted set for dir and, per depth policy,
// recurses into deleted subdirectories.
func (r *Reconstructor) reconstruct(dir string) ([]pathdata.PathEntry, error) {
	liveNames, err := liveNameSet(dir)
	if err != nil {
		return nil, err
	}

	bundle, err := r.Resolver.Resolve(pathdata.PathEntry{Path: dir, IsDir: true})
	if err != nil {
		return nil, err
	}

	snapNames := map[string]snapHit{}
	for _, dataset := range bundle.DatasetsOfInterest {
		rel := pathresolve.RelativePath(dir, dataset)
		for _, sm := range r.SnapIndex[dataset] {
			snapDir := filepath.Join(sm, rel)
			des, err := os.ReadDir(snapDir)
			if err != nil {
				continue
			}
			for _, de := range des {
				if _, ok := liveNames[de.Name()]; ok {
					continue
				}
				fi, err := de.Info()
				if err != nil {
					continue
				}
				if existing, ok := snapNames[de.Name()]; !ok || fi.ModTime().After(existing.modTime) {
					snapNames[de.Name()] = snapHit{
						snapPath: filepath.Join(snapDir, de.Name()),
						isDir:    de.IsDir(),
						modTime:  fi.ModTime(),
					}
				}
			}
		}
	}

	var out []pathdata.PathEntry
	for name, hit := range snapNames {
		syntheticPath := filepath.Join(dir, name)
		out = append(out, pathdata.PathEntry{
			Path:    syntheticPath,
			IsDir:   hit.isDir,
			Phantom: true,
		})

		if hit.isDir && r.Depth == config.DeletedAll {
			sub, err := r.reconstructPhantomDir(hit.snapPath, syntheticPath)
			if err == nil {
				out = append(out, sub...)
			}
		}
	}
	return out, nil
}

type snapHit struct {
	snapPath string
	isDir    bool
	modTime  time.Time
}

// reconstructPhantomDir walks the chosen snapshot copy of a deleted
// directory, rebasing every emitted path under the synthetic live prefix,
// identically to the live walker but rooted at a snapshot path.
func (r *Reconstructor) reconstructPhantomDir(snapDir, syntheticPrefix string) ([]pathdata.PathEntry, error) {
	des, err := os.ReadDir(snapDir)
	if err != nil {
		return nil, err
	}
	var out []pathdata.PathEntry
	for _, de := range des {
		if _, err := de.Info(); err != nil {
			continue
		}
		rebased := filepath.Join(syntheticPrefix, de.Name())
		out = append(out, pathdata.PathEntry{
			Path:    rebased,
			IsDir:   de.IsDir(),
			Phantom: true,
		})
		if de.IsDir() {
			sub, err := r.reconstructPhantomDir(filepath.Join(snapDir, de.Name()), rebased)
			if err == nil {
				out = append(out, sub...)
			}
		}
	}
	return out, nil
}

func liveNameSet(dir string) (map[string]struct{}, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(des))
	for _, de := range des {
		set[de.Name()] = struct{}{}
	}
	return set, nil
}
