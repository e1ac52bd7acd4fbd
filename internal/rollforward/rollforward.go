// Package rollforward reverses a dataset's state so live matches a named
// snapshot, while
// preserving hard-link topology and interstitial snapshots, with bounded
// rollback on failure.
package rollforward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubuntu/httm/internal/diffstream"
	"github.com/ubuntu/httm/internal/fileops"
	"github.com/ubuntu/httm/internal/hardlink"
	"github.com/ubuntu/httm/internal/log"
	"github.com/ubuntu/httm/internal/pathdata"
	"github.com/ubuntu/httm/internal/platform"
)

// RollForward carries the state of one invocation.
type RollForward struct {
	ZFS            platform.ZFS
	Dataset        string
	Snap           string
	ProximateMount string
	// NoClones disables the zero-copy reflink attempt fileops.CopyDirect
	// otherwise makes first, forcing the block-aligned copy fallback.
	NoClones bool
}

// New splits "dataset@snap" and resolves the proximate mount for that
// dataset from the Mount Inventory.
func New(fullSnapName string, inv *pathdata.MountInventory) (*RollForward, error) {
	parts := strings.SplitN(fullSnapName, "@", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected dataset@snap, got %q", fullSnapName)
	}
	dataset, snap := parts[0], parts[1]

	var mount string
	for _, m := range inv.Mounts() {
		meta, _ := inv.Get(m)
		if meta.Source == dataset {
			mount = m
			break
		}
	}
	if mount == "" {
		return nil, fmt.Errorf("no mount found for dataset %q", dataset)
	}

	return &RollForward{Dataset: dataset, Snap: snap, ProximateMount: mount}, nil
}

// Exec runs the full roll-forward sequence, rolling back to the pre-guard
// on any failure after guard acquisition.
func (rf *RollForward) Exec(ctx context.Context) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("roll-forward requires effective root")
	}

	preGuard, err := NewSnapGuard(ctx, rf.ZFS, rf.Dataset, GuardPre, "")
	if err != nil {
		return err
	}

	lock, err := NewDirectoryLock(rf.ProximateMount)
	if err != nil {
		return err
	}

	execErr := lock.WrapFunction(func() error {
		return rf.rollForwardLocked(ctx)
	})
	if execErr != nil {
		log.Errorf(ctx, "roll-forward failed, rolling back to %s@%s: %v", rf.Dataset, preGuard.SnapName, execErr)
		if rbErr := preGuard.Rollback(ctx); rbErr != nil {
			log.Errorf(ctx, "rollback itself failed: %v", rbErr)
		}
		return execErr
	}

	if _, err := NewSnapGuard(ctx, rf.ZFS, rf.Dataset, GuardPost, rf.Snap); err != nil {
		return err
	}
	return nil
}

func (rf *RollForward) rollForwardLocked(ctx context.Context) error {
	snapRoot := filepath.Join(rf.ProximateMount, ".zfs", "snapshot", rf.Snap)

	snapMap, liveMap, err := hardlink.BuildBoth(ctx, snapRoot, rf.ProximateMount)
	if err != nil {
		return fmt.Errorf("building hard-link maps: %w", err)
	}

	stdout, stderr, waiter, err := rf.ZFS.Diff(ctx, rf.Dataset+"@"+rf.Snap)
	if err != nil {
		return fmt.Errorf("spawning zfs diff: %w", err)
	}
	// Drain both pipes concurrently: blocking on either pipe alone can
	// deadlock the child once the other pipe's buffer fills.
	stderrCh := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(stderr)
		stderrCh <- string(b)
	}()
	outBytes, err := io.ReadAll(stdout)
	if err != nil {
		return fmt.Errorf("reading zfs diff output: %w", err)
	}
	events, err := diffstream.Ingest(bytes.NewReader(outBytes), <-stderrCh)
	if err != nil {
		return fmt.Errorf("ingesting diff stream: %w", err)
	}
	if err := waiter.Wait(); err != nil {
		return fmt.Errorf("zfs diff: %w", err)
	}
	events = diffstream.ReduceByPath(events)

	exclusions, err := PreserveLinks(snapMap, liveMap, snapRoot, rf.ProximateMount, rf.NoClones)
	if err != nil {
		return fmt.Errorf("preserving hard links: %w", err)
	}

	for _, ev := range events {
		rel := relativeToMount(ev.Path, rf.ProximateMount)
		livePath := filepath.Join(rf.ProximateMount, rel)
		if _, skip := exclusions[livePath]; skip {
			continue
		}
		if err := rf.applyReverse(ev, snapRoot); err != nil {
			return fmt.Errorf("applying reverse diff for %q: %w", ev.Path, err)
		}
	}

	files, dirs, err := listSubtree(snapRoot)
	if err != nil {
		return fmt.Errorf("listing snapshot subtree for verification: %w", err)
	}
	if err := verifyFromList(files, dirs, snapRoot, rf.ProximateMount, rf.NoClones); err != nil {
		return fmt.Errorf("verification: %w", err)
	}

	return fileops.PreserveAttrs(snapRoot, rf.ProximateMount, nil)
}

// relativeToMount strips the dataset's live mountpoint prefix from a path as
// reported by `zfs diff`, which names paths under the dataset's current
// mountpoint rather than under the snapshot.
func relativeToMount(diffPath, mount string) string {
	rel := strings.TrimPrefix(diffPath, mount)
	return strings.TrimPrefix(rel, "/")
}

// applyReverse inverts one diff event, translating the live-mountpoint-rooted
// paths `zfs diff` reports into their snapshot and live equivalents.
func (rf *RollForward) applyReverse(ev diffstream.Event, snapRoot string) error {
	rel := relativeToMount(ev.Path, rf.ProximateMount)
	snapPath := func(p string) string { return filepath.Join(snapRoot, p) }
	livePath := func(p string) string { return filepath.Join(rf.ProximateMount, p) }

	exists := func(p string) bool {
		_, err := os.Lstat(p)
		return err == nil
	}

	switch ev.Kind {
	case diffstream.Removed, diffstream.Modified:
		if exists(snapPath(rel)) {
			return fileops.CopyDirect(snapPath(rel), livePath(rel), true, rf.NoClones)
		}
		return nil
	case diffstream.Created:
		if exists(snapPath(rel)) {
			return fileops.CopyDirect(snapPath(rel), livePath(rel), true, rf.NoClones)
		}
		return fileops.RecursiveRemove(livePath(rel))
	case diffstream.Renamed:
		relNew := relativeToMount(ev.NewPath, rf.ProximateMount)
		if !exists(snapPath(relNew)) {
			if err := fileops.RecursiveRemove(livePath(relNew)); err != nil {
				return err
			}
		}
		if exists(snapPath(rel)) {
			return fileops.CopyDirect(snapPath(rel), livePath(rel), true, rf.NoClones)
		}
	}
	return nil
}
