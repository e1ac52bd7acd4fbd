// Package snapindex builds the snap index: given a dataset
// mount and its metadata, the set of snapshot mount paths for that dataset.
package snapindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ubuntu/httm/internal/fsinfo"
	"github.com/ubuntu/httm/internal/log"
	"github.com/ubuntu/httm/internal/pathdata"
	"github.com/ubuntu/httm/internal/platform"
)

// Builder constructs a pathdata.SnapIndex from a Mount Inventory.
type Builder struct {
	ZFS   platform.ZFS
	Btrfs platform.Btrfs
	// EffectiveRoot reports whether the process can invoke privileged
	// btrfs operations; when false the btrfs base_subvol path falls
	// back to the snapper-style directory listing.
	EffectiveRoot bool
	// MountCmd is consulted, only as the last fallback, when re-parsing
	// the mount table for nilfs2 checkpoint mounts. Nil defaults to the
	// real mount(8) binary, same as internal/fsinfo.Build.
	MountCmd platform.Mount
}

// Build produces the Snap Index for every dataset in inv, skipping (with a
// warning) datasets that yield zero snap mounts, and failing only if the
// total across all datasets is zero.
func (b *Builder) Build(ctx context.Context, inv *pathdata.MountInventory) (pathdata.SnapIndex, error) {
	idx := pathdata.SnapIndex{}
	total := 0
	for _, mount := range inv.Mounts() {
		meta, _ := inv.Get(mount)
		paths, err := b.forDataset(ctx, mount, meta)
		if err != nil {
			return nil, fmt.Errorf("snap index for %q: %w", mount, err)
		}
		if len(paths) == 0 {
			log.Warningf(ctx, "dataset %q produced zero snapshot mounts; these are typically produced by an auto-mounter and may need explicit mounting", mount)
			continue
		}
		sort.Strings(paths)
		idx[mount] = paths
		total += len(paths)
	}
	if total == 0 {
		return nil, fmt.Errorf("no snapshot mounts were discovered for any dataset")
	}
	return idx, nil
}

func (b *Builder) forDataset(ctx context.Context, mount string, meta pathdata.DatasetMetadata) ([]string, error) {
	switch meta.FSType.Kind {
	case pathdata.Zfs:
		return listExisting(filepath.Join(mount, ".zfs", "snapshot"))
	case pathdata.Btrfs:
		if meta.FSType.Btrfs != nil && meta.FSType.Btrfs.BaseSubvol != "" && b.EffectiveRoot {
			paths, err := b.btrfsSubvolumeShow(ctx, mount, meta)
			if err == nil {
				return paths, nil
			}
			log.Warningf(ctx, "falling back to snapper-style listing for %q: %v", mount, err)
		}
		return b.snapperStyle(mount)
	case pathdata.Nilfs2:
		return b.nilfs2Checkpoints(ctx, meta.Source)
	case pathdata.Restic:
		return b.resticSnapshots(meta)
	case pathdata.Apfs:
		return b.timeMachine(mount)
	}
	return nil, nil
}

func listExisting(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading %q; rerun with elevated privileges", dir)
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if _, err := os.Lstat(full); err == nil {
			paths = append(paths, full)
		}
	}
	return paths, nil
}

// btrfsSubvolumeShow parses `btrfs subvolume show <mount>`'s "Snapshot(s):"
// section (truncated at "Quota group:"), mapping each relative snap path to
// an absolute one by trying it under "/" and, if that does not exist, its
// last path component directly under mount; paths found at neither place
// are dropped. Sibling datasets' base_subvol values are not consulted.
func (b *Builder) btrfsSubvolumeShow(ctx context.Context, mount string, meta pathdata.DatasetMetadata) ([]string, error) {
	out, err := b.Btrfs.SubvolumeShow(ctx, mount)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(out, "\n")
	var snapRelPaths []string
	inSnaps := false
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "Snapshot(s):") {
			inSnaps = true
			continue
		}
		if strings.HasPrefix(trimmed, "Quota group:") {
			break
		}
		if inSnaps && trimmed != "" {
			snapRelPaths = append(snapRelPaths, trimmed)
		}
	}
	var result []string
	for _, rel := range snapRelPaths {
		full := filepath.Join("/", rel)
		if _, err := os.Lstat(full); err == nil {
			result = append(result, full)
			continue
		}
		full = filepath.Join(mount, filepath.Base(rel))
		if _, err := os.Lstat(full); err == nil {
			result = append(result, full)
		}
	}
	return result, nil
}

func (b *Builder) snapperStyle(mount string) ([]string, error) {
	dir := filepath.Join(mount, ".snapshots")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		full := filepath.Join(dir, e.Name(), "snapshot")
		if _, err := os.Lstat(full); err == nil {
			paths = append(paths, full)
		}
	}
	return paths, nil
}

// nilfs2Checkpoints re-parses the mount table
// and keeps every mount whose source matches dataset's source and whose
// options include a cp= checkpoint marker (these were deliberately excluded
// from the live Mount Inventory's dataset map by internal/fsinfo.Build,
// since a checkpoint mount is itself a snapshot, not a dataset).
func (b *Builder) nilfs2Checkpoints(ctx context.Context, source string) ([]string, error) {
	raws, err := fsinfo.ReadMountTable(ctx, b.MountCmd)
	if err != nil {
		return nil, err
	}
	return filterNilfs2Checkpoints(raws, source), nil
}

func filterNilfs2Checkpoints(raws []fsinfo.RawMount, source string) []string {
	var paths []string
	for _, r := range raws {
		if r.Source != source {
			continue
		}
		if !fsinfo.HasNilfs2Checkpoint(r.Options) {
			continue
		}
		paths = append(paths, r.Target)
	}
	return paths
}

func (b *Builder) resticSnapshots(meta pathdata.DatasetMetadata) ([]string, error) {
	if meta.FSType.Restic == nil {
		return nil, nil
	}
	var paths []string
	for _, repo := range meta.FSType.Restic.Repos {
		snapsDir := filepath.Join(repo, "snapshots")
		entries, err := os.ReadDir(snapsDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Name() == "latest" {
				continue
			}
			paths = append(paths, filepath.Join(snapsDir, e.Name()))
		}
	}
	return paths, nil
}

func (b *Builder) timeMachine(mount string) ([]string, error) {
	var paths []string
	hosts, err := os.ReadDir(mount)
	if err != nil {
		return nil, nil
	}
	for _, h := range hosts {
		if !h.IsDir() {
			continue
		}
		hostDir := filepath.Join(mount, h.Name())
		vols, err := os.ReadDir(hostDir)
		if err != nil {
			continue
		}
		for _, v := range vols {
			if !v.IsDir() {
				continue
			}
			paths = append(paths, filepath.Join(hostDir, v.Name(), "Data"))
		}
	}
	return paths, nil
}
