// Package pathresolve implements path resolution: locating
// the proximate dataset mount for an input path, and the set of alternate
// datasets of interest when alt-replicated search is enabled.
package pathresolve

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ubuntu/httm/internal/alias"
	"github.com/ubuntu/httm/internal/i18n"
	"github.com/ubuntu/httm/internal/pathdata"
)

// Resolver holds the read-only bundles consulted by Resolve.
type Resolver struct {
	Mounts        *pathdata.MountInventory
	Aliases       pathdata.AliasMap
	Alts          pathdata.AltMap
	AltReplicated bool
}

// Resolve finds the proximate dataset for a single input path, consulting
// aliases first and the Mount Inventory's ancestor walk second.
func (r *Resolver) Resolve(entry pathdata.PathEntry) (pathdata.ProximateAndAlts, error) {
	path := entry.Path

	if a, ok := alias.Resolve(r.Aliases, path); ok {
		return pathdata.ProximateAndAlts{
			PathEntry:          entry,
			ProximateMount:     a.RemoteDir,
			DatasetsOfInterest: []string{a.RemoteDir},
		}, nil
	}

	mount, err := r.proximateDataset(path)
	if err != nil {
		return pathdata.ProximateAndAlts{}, err
	}

	datasets := []string{mount}
	if r.AltReplicated {
		if alts, ok := r.Alts[mount]; ok {
			datasets = append(datasets, alts...)
		}
	}

	return pathdata.ProximateAndAlts{
		PathEntry:          entry,
		ProximateMount:     mount,
		DatasetsOfInterest: datasets,
	}, nil
}

// proximateDataset walks path's ancestors from most specific to least,
// picking the first ancestor present in the inventory. Ancestors with more
// components than the inventory's MaxLen cannot be mount keys, so they are
// skipped without a lookup: at most MaxLen+1 ancestors (component counts
// MaxLen down to 0, the root) are ever consulted.
func (r *Resolver) proximateDataset(path string) (string, error) {
	maxLen := r.Mounts.MaxLen()
	cur := filepath.Clean(path)
	for componentCount(cur) > maxLen {
		cur = filepath.Dir(cur)
	}
	for {
		if _, ok := r.Mounts.Get(cur); ok {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "", fmt.Errorf(i18n.G("could not identify any qualifying dataset. Maybe consider specifying manually at SNAP_POINT?"))
}

func componentCount(p string) int {
	p = strings.Trim(p, "/")
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// RelativePath computes the path of entry relative to its proximate mount
// (or alias local_dir), as the bundle's "relative_path = input - proximate".
func RelativePath(entryPath, proximateMount string) string {
	rel := strings.TrimPrefix(entryPath, proximateMount)
	return strings.TrimPrefix(rel, "/")
}
