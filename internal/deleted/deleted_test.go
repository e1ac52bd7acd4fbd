package deleted

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubuntu/httm/internal/config"
	"github.com/ubuntu/httm/internal/pathdata"
	"github.com/ubuntu/httm/internal/pathresolve"
	"github.com/ubuntu/httm/internal/walk"
)

func setupLiveAndSnap(t *testing.T) (live, snapMount string) {
	t.Helper()
	root := t.TempDir()
	live = filepath.Join(root, "live")
	snapMount = filepath.Join(root, "snap")
	require.NoError(t, os.MkdirAll(live, 0o755))
	require.NoError(t, os.MkdirAll(snapMount, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(live, "keep"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(snapMount, "keep"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(snapMount, "gone"), []byte("y"), 0o644))
	return live, snapMount
}

func newResolver(live, snapMount string) *pathresolve.Resolver {
	inv := pathdata.NewMountInventory(map[string]pathdata.DatasetMetadata{
		live: {Source: "pool/live", FSType: pathdata.FSType{Kind: pathdata.Zfs}},
	})
	return &pathresolve.Resolver{Mounts: inv}
}

func TestReconstructFindsDeletedFile(t *testing.T) {
	live, snapMount := setupLiveAndSnap(t)
	r := &Reconstructor{
		Resolver:  newResolver(live, snapMount),
		SnapIndex: pathdata.SnapIndex{live: {snapMount}},
		Sink:      walk.SinkFunc(func([]pathdata.PathEntry) {}),
	}

	entries, err := r.reconstruct(live)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, filepath.Base(e.Path))
		require.True(t, e.Phantom)
	}
	sort.Strings(names)
	require.Equal(t, []string{"gone"}, names)
}

func TestReconstructRecursesIntoPhantomDirWithDepthAll(t *testing.T) {
	live, snapMount := setupLiveAndSnap(t)
	require.NoError(t, os.Mkdir(filepath.Join(snapMount, "gonedir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapMount, "gonedir", "nested"), []byte("z"), 0o644))

	r := &Reconstructor{
		Resolver:  newResolver(live, snapMount),
		SnapIndex: pathdata.SnapIndex{live: {snapMount}},
		Depth:     config.DeletedAll,
		Sink:      walk.SinkFunc(func([]pathdata.PathEntry) {}),
	}

	entries, err := r.reconstruct(live)
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Path == filepath.Join(live, "gonedir", "nested") {
			found = true
			require.True(t, e.Phantom)
		}
	}
	require.True(t, found, "expected recursion into phantom directory to surface nested file")
}

func TestSpawnAndWaitDeliverThroughSink(t *testing.T) {
	live, snapMount := setupLiveAndSnap(t)
	var delivered []pathdata.PathEntry
	r := &Reconstructor{
		Resolver:  newResolver(live, snapMount),
		SnapIndex: pathdata.SnapIndex{live: {snapMount}},
		Sink: walk.SinkFunc(func(entries []pathdata.PathEntry) {
			delivered = append(delivered, entries...)
		}),
	}

	r.Spawn(live)
	r.Wait()

	require.Len(t, delivered, 1)
	require.Equal(t, filepath.Join(live, "gone"), delivered[0].Path)
}
