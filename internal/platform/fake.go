package platform

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// FakeZFS is an in-memory ZFS used by tests, backing the interface with
// maps instead of a real subprocess.
type FakeZFS struct {
	DiffOutput map[string]string // datasetAtSnap -> tab-separated diff lines
	DiffErr    map[string]string
	Snapshots  map[string][]string // dataset -> snapshot names
	Rollbacks  []string
	Destroyed  []string
}

// NewFakeZFS returns an empty FakeZFS.
func NewFakeZFS() *FakeZFS {
	return &FakeZFS{
		DiffOutput: map[string]string{},
		DiffErr:    map[string]string{},
		Snapshots:  map[string][]string{},
	}
}

type nopWaiter struct{ err error }

func (w nopWaiter) Wait() error { return w.err }

// Diff implements ZFS.
func (f *FakeZFS) Diff(ctx context.Context, datasetAtSnap string) (io.ReadCloser, io.ReadCloser, Waiter, error) {
	out := io.NopCloser(strings.NewReader(f.DiffOutput[datasetAtSnap]))
	errOut := io.NopCloser(strings.NewReader(f.DiffErr[datasetAtSnap]))
	return out, errOut, nopWaiter{}, nil
}

// Snapshot implements ZFS.
func (f *FakeZFS) Snapshot(ctx context.Context, dataset, name string, recursive bool) error {
	f.Snapshots[dataset] = append(f.Snapshots[dataset], name)
	return nil
}

// Rollback implements ZFS.
func (f *FakeZFS) Rollback(ctx context.Context, datasetAtSnap string) error {
	f.Rollbacks = append(f.Rollbacks, datasetAtSnap)
	return nil
}

// Destroy implements ZFS.
func (f *FakeZFS) Destroy(ctx context.Context, datasetAtSnap string) error {
	f.Destroyed = append(f.Destroyed, datasetAtSnap)
	return nil
}

// ListSnapshotNames implements ZFS.
func (f *FakeZFS) ListSnapshotNames(ctx context.Context, dataset string) ([]string, error) {
	names, ok := f.Snapshots[dataset]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
	return names, nil
}

// FakeBtrfs is an in-memory Btrfs used by tests, mirroring FakeZFS's
// map-backed convention.
type FakeBtrfs struct {
	ShowOutput map[string]string // mount -> `btrfs subvolume show` text
	ShowErr    map[string]error
}

// NewFakeBtrfs returns an empty FakeBtrfs.
func NewFakeBtrfs() *FakeBtrfs {
	return &FakeBtrfs{ShowOutput: map[string]string{}, ShowErr: map[string]error{}}
}

// SubvolumeShow implements Btrfs.
func (f *FakeBtrfs) SubvolumeShow(ctx context.Context, mount string) (string, error) {
	if err, ok := f.ShowErr[mount]; ok {
		return "", err
	}
	return f.ShowOutput[mount], nil
}
