// Package walk implements the recursive walker: a two-sided
// live/deleted directory traversal that streams combined entries to a sink,
// cooperatively cancellable via a hang-up flag.
package walk

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/ubuntu/httm/internal/pathdata"
)

// Sink receives entries as the walker discovers them.
type Sink interface {
	Deliver(entries []pathdata.PathEntry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(entries []pathdata.PathEntry)

// Deliver implements Sink.
func (f SinkFunc) Deliver(entries []pathdata.PathEntry) { f(entries) }

// DeletedSpawner is implemented by internal/deleted so the walker can spawn
// a reconstruction task per visited directory without importing it
// directly (avoiding an import cycle, since internal/deleted imports this
// package for its Sink type).
type DeletedSpawner interface {
	Spawn(dir string)
	Wait()
}

// Walker holds the state of one traversal: recursive-or-not, filter dirs,
// the shared inode-dedup set, and the cooperative hang-up flag.
type Walker struct {
	Filters      pathdata.FilterDirs
	Recursive    bool
	NoFilter     bool
	RequestedDir string
	Deleted      DeletedSpawner

	// NoHidden excludes dotfiles (other than the requested root itself)
	// from the delivered entries.
	NoHidden bool
	// NoTraverse disables following symlinks into directories: entries
	// are partitioned by the cheap os.DirEntry type instead of a stat
	// that would resolve the symlink's target. This is the cheaper path;
	// by default (NoTraverse false), a symlinked directory is resolved
	// via metadata so its contents are descended into.
	NoTraverse bool
	// OneFilesystem stops descent at a device boundary: a subdirectory
	// whose st_dev differs from the requested root's is not queued.
	OneFilesystem bool

	rootDev   uint64
	hasDev    bool
	hangup    int32
	seenInode sync.Map // dedup set across bind-mounts/symlink loops
	yieldN    int
}

// New constructs a Walker.
func New(requestedDir string, filters pathdata.FilterDirs, recursive bool) *Walker {
	return &Walker{RequestedDir: requestedDir, Filters: filters, Recursive: recursive}
}

// HangUp requests cooperative cancellation; observed at directory
// boundaries, never mid-directory.
func (w *Walker) HangUp() { atomic.StoreInt32(&w.hangup, 1) }

func (w *Walker) hungUp() bool { return atomic.LoadInt32(&w.hangup) == 1 }

// Run streams entries to sink starting at the requested directory,
// injecting synthetic "." and ".." dot entries first.
func (w *Walker) Run(sink Sink) error {
	sink.Deliver(dotEntries(w.RequestedDir))

	if w.OneFilesystem {
		if fi, err := os.Lstat(w.RequestedDir); err == nil {
			if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
				w.rootDev = uint64(sys.Dev)
				w.hasDev = true
			}
		}
	}

	queue := []string{w.RequestedDir}
	count := 0
	for len(queue) > 0 {
		if w.hungUp() {
			break
		}
		dir := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		dirs, n, err := w.enterDirectory(dir, sink)
		if err != nil {
			if !w.Recursive {
				return err
			}
			continue // recursive mode swallows per-directory errors
		}

		if w.Deleted != nil {
			w.Deleted.Spawn(dir)
		}

		if w.Recursive {
			queue = append(queue, dirs...)
		}

		count += n
		if count >= 100 {
			runtimeYield()
			count = 0
		}
	}

	if w.Deleted != nil {
		w.Deleted.Wait()
	}
	return nil
}

// enterDirectory lists dir, applies filter-dir suppression, delivers the
// combined entries to the sink and returns the subdirectories found plus
// the number of entries delivered.
func (w *Walker) enterDirectory(dir string, sink Sink) ([]string, int, error) {
	if w.isFiltered(dir) {
		return nil, 0, nil
	}

	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var entries []pathdata.PathEntry
	var dirs []string
	for _, de := range des {
		name := de.Name()
		if w.NoHidden && strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		isDir := w.entryIsDir(de, full)
		if isDir {
			if w.isFiltered(full) {
				continue
			}
			if w.OneFilesystem && w.crossesFilesystem(full) {
				continue
			}
			if w.dedupVisited(full) {
				continue
			}
			dirs = append(dirs, full)
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, pathdata.PathEntry{
			Path:    full,
			IsDir:   isDir,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	sink.Deliver(entries)
	return dirs, len(entries), nil
}

// entryIsDir resolves whether full should be descended into as a directory.
// By default (NoTraverse=false) a symlink target is resolved via metadata so
// symlinked directories are traversed; with NoTraverse=true the cheap
// os.DirEntry type is used instead, so a symlink is never treated as a
// directory to descend into.
func (w *Walker) entryIsDir(de os.DirEntry, full string) bool {
	if w.NoTraverse {
		return de.IsDir()
	}
	if de.Type()&os.ModeSymlink == 0 {
		return de.IsDir()
	}
	fi, err := os.Stat(full)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// crossesFilesystem reports whether full's device differs from the
// requested root's, implementing the one-filesystem descent boundary.
func (w *Walker) crossesFilesystem(full string) bool {
	if !w.hasDev {
		return false
	}
	fi, err := os.Stat(full)
	if err != nil {
		return false
	}
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return uint64(sys.Dev) != w.rootDev
}

func (w *Walker) isFiltered(dir string) bool {
	if w.NoFilter || dir == w.RequestedDir {
		return false
	}
	return w.Filters.Contains(dir)
}

// dedupVisited reports whether dir's inode has already been visited,
// guarding against symlink loops and repeated bind-mount traversal. The
// stat follows symlinks so a loop resolves to the same (dev, ino) key no
// matter how long the looping path grows.
func (w *Walker) dedupVisited(dir string) bool {
	fi, err := os.Stat(dir)
	if err != nil {
		return false
	}
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	key := [2]uint64{uint64(sys.Dev), sys.Ino}
	_, loaded := w.seenInode.LoadOrStore(key, struct{}{})
	return loaded
}

func dotEntries(requestedDir string) []pathdata.PathEntry {
	parent := filepath.Dir(requestedDir)
	now := pathdata.PathEntry{Path: requestedDir, IsDir: true}
	parentEntry := pathdata.PathEntry{Path: parent, IsDir: true}
	return []pathdata.PathEntry{now, parentEntry}
}

func runtimeYield() {
	runtime.Gosched()
}
