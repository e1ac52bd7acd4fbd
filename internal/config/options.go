package config

// DedupBy selects the version deduplication policy used by the enumerator.
type DedupBy int

const (
	// DedupDisabled keeps every candidate, including duplicates.
	DedupDisabled DedupBy = iota
	// DedupMetadata dedups by (mtime, size), keeping the first seen.
	DedupMetadata
	// DedupContents always falls through to a content hash compare when
	// (mtime, size) agree but the candidates are otherwise suspect.
	DedupContents
	// DedupSuspect is Metadata, except same-size/different-mtime pairs
	// fall through to a content compare.
	DedupSuspect
)

// LastSnapMode narrows a versions list down to its final element.
type LastSnapMode int

const (
	// LastSnapNone performs no narrowing.
	LastSnapNone LastSnapMode = iota
	// LastSnapAny keeps whatever the final element is.
	LastSnapAny
	// LastSnapDittoOnly keeps the final element only if it matches live.
	LastSnapDittoOnly
	// LastSnapNoDittoExclusive keeps the final element unless it is a
	// ditto of live, in which case it returns empty.
	LastSnapNoDittoExclusive
	// LastSnapNoDittoInclusive is Exclusive, except it falls back to live
	// when there are no snapshot versions at all.
	LastSnapNoDittoInclusive
	// LastSnapWithout returns the live entry only for paths with zero
	// snapshot versions; paths with existing versions return empty.
	LastSnapWithout
)

// DeletedMode controls whether and how the deleted reconstructor runs.
type DeletedMode int

const (
	// DeletedNone disables deleted-file reconstruction.
	DeletedNone DeletedMode = iota
	// DeletedDepthOfOne reconstructs one level, without recursing.
	DeletedDepthOfOne
	// DeletedAll recurses into phantom directories.
	DeletedAll
	// DeletedOnly suppresses live output, emitting deleted entries only.
	DeletedOnly
)

// AltStore selects an alternate snapshot source outside the live mount
// table.
type AltStore int

const (
	// AltStoreNone uses the live mount table.
	AltStoreNone AltStore = iota
	// AltStoreRestic uses one or more Restic repositories.
	AltStoreRestic
	// AltStoreTimeMachine uses Apple Time Machine backup roots.
	AltStoreTimeMachine
)

// Context is the immutable, per-invocation configuration threaded
// explicitly through constructors rather than held as package-global
// mutable state.
type Context struct {
	DedupBy  DedupBy
	LastSnap LastSnapMode
	Deleted  DeletedMode
	AltStore AltStore

	OmitDitto     bool
	NoHidden      bool
	NoSnap        bool
	OneFilesystem bool
	NoTraverse    bool
	AltReplicated bool
	UTC           bool
	JSON          bool

	// NoLive excludes live (non-snapshot) entries from recursive display
	// output, showing only reconstructed deleted/pseudo-live entries.
	NoLive bool
	// NoClones disables the zero-copy FICLONE reflink attempt file
	// restoration otherwise makes first, forcing the block-aligned copy.
	NoClones bool

	Aliases     []string // colon-separated local:remote[:fstype] pairs
	ResticRepos []string
}
