// Package pathdata holds the shared value types threaded between every
// other component: the on-disk identity of a path, the metadata describing
// the dataset it lives on, and the read-only bundles built once at startup.
package pathdata

import (
	"sort"
	"strings"
	"time"
)

// LinkType describes whether a dataset mount is local or reached over the
// network (SMB/NFS/AFP home directories commonly sit on top of a ZFS or
// btrfs server without the client knowing it).
type LinkType int

const (
	// Local means the mount is backed by a directly attached block device.
	Local LinkType = iota
	// Network means the mount was classified by probing for a hidden
	// snapshot directory under an SMB/NFS/AFP mount.
	Network
)

// FSKind tags the variant held by FSType.
type FSKind int

const (
	// Zfs datasets expose snapshots under <mount>/.zfs/snapshot.
	Zfs FSKind = iota
	// Btrfs datasets expose snapshots either via `btrfs subvolume show`
	// or, lacking root, a snapper-style .snapshots directory.
	Btrfs
	// Nilfs2 checkpoints are themselves separate mounts tagged with a
	// cp= mount option.
	Nilfs2
	// Apfs denotes an Apple Time Machine backup root.
	Apfs
	// Restic denotes a Restic repository, bare or from an explicit list.
	Restic
)

// BtrfsData carries the btrfs-specific fields of FSType.
type BtrfsData struct {
	BaseSubvol string
	// SnapNames caches the mapping from a discovered snapshot mount to
	// the subvolume name reported by `btrfs subvolume show`. Populated
	// lazily by internal/snapindex on first lookup for this dataset.
	SnapNames map[string]string
}

// ResticData carries the repos known for Restic alt-store mode.
type ResticData struct {
	Repos []string
}

// FSType is the tagged union described by the data model: exactly one of
// the pointer fields is meaningful, selected by Kind.
type FSType struct {
	Kind   FSKind
	Btrfs  *BtrfsData
	Restic *ResticData
}

// DatasetMetadata describes one entry of the Mount Inventory.
type DatasetMetadata struct {
	Source   string
	FSType   FSType
	LinkType LinkType
}

// PathEntry is a path with optional cached file-type and lazily retrieved
// metadata. A phantom entry has Phantom=true, Size=0 and a zero ModTime.
type PathEntry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	Phantom bool
	// Ino is filled in by the version enumerator from the same stat that
	// supplies Size and ModTime; the hard-link map and verification stat
	// paths themselves and leave it nil.
	Ino *uint64
}

// Less orders two entries lexicographically by path, then by ModTime, then
// by Size, matching the "ordering is lexicographic over the path; equality
// includes size and mtime" rule.
func (p PathEntry) Less(o PathEntry) bool {
	if p.Path != o.Path {
		return p.Path < o.Path
	}
	if !p.ModTime.Equal(o.ModTime) {
		return p.ModTime.Before(o.ModTime)
	}
	return p.Size < o.Size
}

// MountInventory is the ordered, ancestor-sorted mapping from mount path to
// DatasetMetadata, built once at startup and read-only thereafter.
type MountInventory struct {
	order   []string
	entries map[string]DatasetMetadata
	maxLen  int
}

// NewMountInventory builds an inventory from an unordered map, computing and
// caching MaxLen.
func NewMountInventory(m map[string]DatasetMetadata) *MountInventory {
	inv := &MountInventory{entries: make(map[string]DatasetMetadata, len(m))}
	for k, v := range m {
		inv.entries[k] = v
	}
	inv.order = make([]string, 0, len(m))
	for k := range m {
		inv.order = append(inv.order, k)
	}
	// Sort by component count descending so ancestor lookups (most
	// specific match wins) can stop at the first hit.
	sort.Slice(inv.order, func(i, j int) bool {
		return components(inv.order[i]) > components(inv.order[j])
	})
	for _, k := range inv.order {
		if n := components(k); n > inv.maxLen {
			inv.maxLen = n
		}
	}
	return inv
}

func components(p string) int {
	p = strings.Trim(p, "/")
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// MaxLen is the maximum component count among mount paths, bounding the
// number of ancestors consulted during proximate-dataset lookup.
func (inv *MountInventory) MaxLen() int { return inv.maxLen }

// Get returns the metadata for an exact mount path.
func (inv *MountInventory) Get(mount string) (DatasetMetadata, bool) {
	d, ok := inv.entries[mount]
	return d, ok
}

// Mounts returns mount paths ordered most-specific (deepest) first.
func (inv *MountInventory) Mounts() []string { return inv.order }

// Len reports the number of mounts.
func (inv *MountInventory) Len() int { return len(inv.entries) }

// FilterDirs is the set of paths suppressed during live traversal.
type FilterDirs map[string]struct{}

// NewFilterDirs builds a FilterDirs set from a slice of paths.
func NewFilterDirs(paths ...string) FilterDirs {
	f := make(FilterDirs, len(paths))
	for _, p := range paths {
		f[p] = struct{}{}
	}
	return f
}

// Contains reports whether path is a filtered directory.
func (f FilterDirs) Contains(path string) bool {
	_, ok := f[path]
	return ok
}

// Add inserts a path into the filter set.
func (f FilterDirs) Add(path string) { f[path] = struct{}{} }

// SnapIndex maps a dataset mount to its ordered snapshot mount paths.
type SnapIndex map[string][]string

// Alias associates a local directory with a remote directory and fs type,
// used by path resolution in place of real mounts.
type Alias struct {
	LocalDir  string
	RemoteDir string
	FSType    FSType
}

// AliasMap maps local-dir to Alias, consulted before the Mount Inventory.
type AliasMap map[string]Alias

// AltMap maps a proximate dataset mount to its alternative replicated
// dataset mounts.
type AltMap map[string][]string

// ProximateAndAlts is produced by the resolver and consumed by the version
// enumerator.
type ProximateAndAlts struct {
	PathEntry          PathEntry
	ProximateMount     string
	DatasetsOfInterest []string
}

// RelativeAndSnapMounts pairs a path relative to a dataset mount with that
// dataset's snapshot mount list.
type RelativeAndSnapMounts struct {
	RelativePath string
	SnapMounts   []string
}

// VersionsMap is the ordered mapping live-path to ordered version entries,
// chronologically ascending by mtime.
type VersionsMap map[string][]PathEntry
