// Package versions enumerates snapshot versions: producing, for each
// input path, an ordered list of snapshot version path entries.
package versions

import (
	"fmt"
	"hash/adler32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/ubuntu/httm/internal/config"
	"github.com/ubuntu/httm/internal/pathdata"
)

// contentHashBufSize is the buffer size used when hashing file contents
// for the Adler32 comparison.
const contentHashBufSize = 64 * 1024

// Enumerator produces Versions Map entries.
type Enumerator struct {
	SnapIndex pathdata.SnapIndex
	Cfg       *config.Context
	// hashCache memoizes Adler32 checksums per resolved file path so a
	// repeated Contents/Suspect comparison doesn't re-read the file.
	hashCache map[string]uint32
}

// NewEnumerator constructs an Enumerator over a built Snap Index.
func NewEnumerator(idx pathdata.SnapIndex, cfg *config.Context) *Enumerator {
	return &Enumerator{SnapIndex: idx, Cfg: cfg, hashCache: map[string]uint32{}}
}

// Versions stats the bundle's relative path under every candidate snap
// mount, dedups per the configured policy, and returns the ordered version
// list for the bundle's path.
func (e *Enumerator) Versions(bundle pathdata.ProximateAndAlts, live pathdata.PathEntry) ([]pathdata.PathEntry, error) {
	var candidates []pathdata.PathEntry

	for _, dataset := range bundle.DatasetsOfInterest {
		rel := relativePath(bundle.PathEntry.Path, dataset)
		snapMounts := e.SnapIndex[dataset]
		for _, sm := range snapMounts {
			candidatePath := filepath.Join(sm, rel)
			fi, err := os.Lstat(candidatePath)
			if err != nil {
				if os.IsPermission(err) {
					return nil, fmt.Errorf("permission denied reading %q; rerun with elevated privileges", candidatePath)
				}
				continue // stat failures on a candidate are silently skipped
			}
			candidates = append(candidates, toEntry(candidatePath, fi))
		}
	}

	deduped, err := e.dedup(candidates)
	if err != nil {
		return nil, err
	}

	sort.Slice(deduped, func(i, j int) bool {
		if !deduped[i].ModTime.Equal(deduped[j].ModTime) {
			return deduped[i].ModTime.Before(deduped[j].ModTime)
		}
		return deduped[i].Size < deduped[j].Size
	})

	deduped = e.applyLastSnap(deduped, live)

	if len(deduped) == 0 && live.Phantom && !e.Cfg.NoSnap {
		return nil, fmt.Errorf("no versions found for %q and live path is absent", bundle.PathEntry.Path)
	}

	return deduped, nil
}

func relativePath(entryPath, dataset string) string {
	rel, err := filepath.Rel(dataset, entryPath)
	if err != nil || rel == "." {
		return ""
	}
	return rel
}

func toEntry(path string, fi os.FileInfo) pathdata.PathEntry {
	entry := pathdata.PathEntry{
		Path:    path,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		ino := sys.Ino
		entry.Ino = &ino
	}
	return entry
}

type metaKey struct {
	mtime time.Time
	size  int64
}

func (e *Enumerator) dedup(candidates []pathdata.PathEntry) ([]pathdata.PathEntry, error) {
	switch e.Cfg.DedupBy {
	case config.DedupDisabled:
		return candidates, nil
	case config.DedupMetadata:
		return e.dedupMetadata(candidates, false)
	case config.DedupContents:
		return e.dedupContents(candidates)
	case config.DedupSuspect:
		return e.dedupMetadata(candidates, true)
	}
	return candidates, nil
}

// dedupMetadata dedups by (mtime, size), retaining the first encountered.
// When suspect is true, a same-size/different-mtime pair falls through to a
// content compare against the most recently kept candidate of that size.
func (e *Enumerator) dedupMetadata(candidates []pathdata.PathEntry, suspect bool) ([]pathdata.PathEntry, error) {
	seen := map[metaKey]bool{}
	bySizeLastPath := map[int64]string{}
	var out []pathdata.PathEntry
	for _, c := range candidates {
		key := metaKey{c.ModTime, c.Size}
		if seen[key] {
			continue
		}
		if suspect {
			if prevPath, ok := bySizeLastPath[c.Size]; ok {
				equal, err := e.contentsEqual(prevPath, c.Path)
				if err != nil {
					return nil, err
				}
				if equal {
					continue
				}
			}
		}
		seen[key] = true
		bySizeLastPath[c.Size] = c.Path
		out = append(out, c)
	}
	return out, nil
}

// dedupContents groups candidates agreeing on (mtime,size), resolving ties
// within a group by comparing Adler32 checksums.
func (e *Enumerator) dedupContents(candidates []pathdata.PathEntry) ([]pathdata.PathEntry, error) {
	groups := map[metaKey][]pathdata.PathEntry{}
	var order []metaKey
	for _, c := range candidates {
		key := metaKey{c.ModTime, c.Size}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	var out []pathdata.PathEntry
	for _, key := range order {
		group := groups[key]
		var kept []pathdata.PathEntry
		for _, c := range group {
			dup := false
			for _, k := range kept {
				equal, err := e.contentsEqual(k.Path, c.Path)
				if err != nil {
					return nil, err
				}
				if equal {
					dup = true
					break
				}
			}
			if !dup {
				kept = append(kept, c)
			}
		}
		out = append(out, kept...)
	}
	return out, nil
}

func (e *Enumerator) contentsEqual(a, b string) (bool, error) {
	ha, err := e.contentHash(a)
	if err != nil {
		return false, err
	}
	hb, err := e.contentHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func (e *Enumerator) contentHash(path string) (uint32, error) {
	if h, ok := e.hashCache[path]; ok {
		return h, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := adler32.New()
	buf := make([]byte, contentHashBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return 0, err
	}
	sum := h.Sum32()
	e.hashCache[path] = sum
	return sum, nil
}

// applyLastSnap implements the optional omit-ditto and last-snap
// post-processing.
func (e *Enumerator) applyLastSnap(versions []pathdata.PathEntry, live pathdata.PathEntry) []pathdata.PathEntry {
	if e.Cfg.OmitDitto && len(versions) > 0 {
		last := versions[len(versions)-1]
		if last.ModTime.Equal(live.ModTime) && last.Size == live.Size && !live.Phantom {
			versions = versions[:len(versions)-1]
		}
	}

	switch e.Cfg.LastSnap {
	case config.LastSnapNone:
		return versions
	case config.LastSnapAny:
		if len(versions) == 0 {
			return nil
		}
		return versions[len(versions)-1:]
	case config.LastSnapDittoOnly:
		if len(versions) == 0 {
			return nil
		}
		last := versions[len(versions)-1]
		if isDitto(last, live) {
			return []pathdata.PathEntry{last}
		}
		return nil
	case config.LastSnapNoDittoExclusive:
		if len(versions) == 0 {
			return nil
		}
		last := versions[len(versions)-1]
		if isDitto(last, live) {
			return nil
		}
		return versions[len(versions)-1:]
	case config.LastSnapNoDittoInclusive:
		if len(versions) == 0 {
			return []pathdata.PathEntry{live}
		}
		last := versions[len(versions)-1]
		if isDitto(last, live) {
			return nil
		}
		return versions[len(versions)-1:]
	case config.LastSnapWithout:
		if len(versions) == 0 {
			return []pathdata.PathEntry{live}
		}
		return nil
	}
	return versions
}

func isDitto(v, live pathdata.PathEntry) bool {
	return v.ModTime.Equal(live.ModTime) && v.Size == live.Size && !live.Phantom
}
