package rollforward

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubuntu/httm/internal/platform"
)

func TestNewSnapGuardPreNamesAndTakesSnapshot(t *testing.T) {
	zfs := platform.NewFakeZFS()
	g, err := NewSnapGuard(context.Background(), zfs, "pool/data", GuardPre, "")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(g.SnapName, "snap_pre_"))
	require.True(t, strings.HasSuffix(g.SnapName, guardSuffix))
	require.Equal(t, []string{g.SnapName}, zfs.Snapshots["pool/data"])
}

func TestNewSnapGuardPostEmbedsOriginSnapName(t *testing.T) {
	zfs := platform.NewFakeZFS()
	g, err := NewSnapGuard(context.Background(), zfs, "pool/data", GuardPost, "restore_target")
	require.NoError(t, err)

	require.Contains(t, g.SnapName, ":restore_target:")
	require.True(t, strings.HasPrefix(g.SnapName, "snap_post_"))
}

func TestSnapGuardRollbackInvokesZFS(t *testing.T) {
	zfs := platform.NewFakeZFS()
	g, err := NewSnapGuard(context.Background(), zfs, "pool/data", GuardPre, "")
	require.NoError(t, err)

	require.NoError(t, g.Rollback(context.Background()))
	require.Equal(t, []string{"pool/data@" + g.SnapName}, zfs.Rollbacks)
}

func TestUserSnapshotNameHasExpectedShape(t *testing.T) {
	name := UserSnapshotName()
	require.True(t, strings.HasPrefix(name, "snap_"))
	parts := strings.Split(name, "_")
	require.GreaterOrEqual(t, len(parts), 3)
	require.Len(t, parts[len(parts)-1], 8)
}
