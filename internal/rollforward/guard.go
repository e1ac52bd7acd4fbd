package rollforward

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ubuntu/httm/internal/platform"
)

// GuardPhase names the class of guard snapshot taken around a roll-forward.
type GuardPhase int

const (
	// GuardPre brackets the start of the operation.
	GuardPre GuardPhase = iota
	// GuardPost brackets a successful completion, naming the originating
	// snapshot.
	GuardPost
)

const guardSuffix = "httmSnapRollForward"

// SnapGuard takes and tracks a guard snapshot, per the naming convention
// "<dataset>@snap_pre_<UTC-ts>_httmSnapRollForward" /
// "<dataset>@snap_post_<UTC-ts>_:<orig-snap>:_httmSnapRollForward".
type SnapGuard struct {
	ZFS        platform.ZFS
	Dataset    string
	SnapName   string
	phase      GuardPhase
}

// NewSnapGuard takes a guard snapshot of dataset for the given phase.
func NewSnapGuard(ctx context.Context, zfs platform.ZFS, dataset string, phase GuardPhase, originSnap string) (*SnapGuard, error) {
	ts := nowUTC().Format("20060102T150405Z")
	var name string
	switch phase {
	case GuardPre:
		name = fmt.Sprintf("snap_pre_%s_%s", ts, guardSuffix)
	case GuardPost:
		name = fmt.Sprintf("snap_post_%s_:%s:_%s", ts, originSnap, guardSuffix)
	}
	if err := zfs.Snapshot(ctx, dataset, name, true); err != nil {
		return nil, fmt.Errorf("taking guard snapshot %s@%s: %w", dataset, name, err)
	}
	return &SnapGuard{ZFS: zfs, Dataset: dataset, SnapName: name, phase: phase}, nil
}

// Rollback rolls dataset back to this guard's snapshot. Rollback failures
// are reported but the caller still exits non-zero regardless.
func (g *SnapGuard) Rollback(ctx context.Context) error {
	return g.ZFS.Rollback(ctx, g.Dataset+"@"+g.SnapName)
}

// UserSnapshotName builds a name for an ad hoc user snapshot:
// "snap_<UTC-ts>_<suffix>", the suffix a short random uuid fragment.
func UserSnapshotName() string {
	ts := nowUTC().Format("20060102T150405Z")
	return fmt.Sprintf("snap_%s_%s", ts, uuid.New().String()[:8])
}

// nowUTC is split out so that tests can't accidentally depend on wall-clock
// ordering across CI machines with different local zones.
func nowUTC() time.Time { return time.Now().UTC() }
