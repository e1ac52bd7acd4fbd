// Package platform wraps the external collaborators the core never talks to
// directly: the zfs, btrfs and mount command-line tools. Real
// implementations fork/exec; tests substitute the Fake* types.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Waiter is returned alongside a diff stream so the caller can collect the
// exit status (and any late stderr) once the stream is fully drained.
type Waiter interface {
	Wait() error
}

// ZFS is the contract for the subset of `zfs` this tool shells out to.
type ZFS interface {
	// Diff streams `zfs diff -H dataset@snap` to stdout; stderr is
	// returned separately so the caller can decide whether a benign
	// mid-stream warning should just be logged.
	Diff(ctx context.Context, datasetAtSnap string) (stdout io.ReadCloser, stderr io.ReadCloser, w Waiter, err error)
	Snapshot(ctx context.Context, dataset, name string, recursive bool) error
	Rollback(ctx context.Context, datasetAtSnap string) error
	Destroy(ctx context.Context, datasetAtSnap string) error
	ListSnapshotNames(ctx context.Context, dataset string) ([]string, error)
}

// Btrfs is the contract for the subset of `btrfs` this tool shells out to.
type Btrfs interface {
	SubvolumeShow(ctx context.Context, mount string) (string, error)
}

// Mount is the contract for the `mount` fallback used when neither
// /proc/mounts nor /etc/mnttab is readable.
type Mount interface {
	Text(ctx context.Context) (string, error)
}

// ExecZFS shells out to the real zfs(8) binary.
type ExecZFS struct{ Bin string }

// NewExecZFS returns an ExecZFS defaulting Bin to "zfs".
func NewExecZFS() *ExecZFS { return &ExecZFS{Bin: "zfs"} }

type procWaiter struct{ cmd *exec.Cmd }

func (w procWaiter) Wait() error { return w.cmd.Wait() }

// Diff implements ZFS.
func (z *ExecZFS) Diff(ctx context.Context, datasetAtSnap string) (io.ReadCloser, io.ReadCloser, Waiter, error) {
	cmd := exec.CommandContext(ctx, z.Bin, "diff", "-H", datasetAtSnap)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return stdout, stderr, procWaiter{cmd}, nil
}

// Snapshot implements ZFS.
func (z *ExecZFS) Snapshot(ctx context.Context, dataset, name string, recursive bool) error {
	args := []string{"snapshot"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, dataset+"@"+name)
	return z.run(ctx, args...)
}

// Rollback implements ZFS.
func (z *ExecZFS) Rollback(ctx context.Context, datasetAtSnap string) error {
	return z.run(ctx, "rollback", "-r", datasetAtSnap)
}

// Destroy implements ZFS.
func (z *ExecZFS) Destroy(ctx context.Context, datasetAtSnap string) error {
	return z.run(ctx, "destroy", datasetAtSnap)
}

// ListSnapshotNames implements ZFS.
func (z *ExecZFS) ListSnapshotNames(ctx context.Context, dataset string) ([]string, error) {
	cmd := exec.CommandContext(ctx, z.Bin, "list", "-H", "-o", "name", "-t", "snapshot", "-r", dataset)
	out, err := cmd.Output()
	if err != nil {
		return nil, wrapStderr(err)
	}
	var names []string
	for _, line := range bytes.Split(out, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		names = append(names, string(line))
	}
	return names, nil
}

func (z *ExecZFS) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, z.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s %v: %s", z.Bin, args, stderr.String())
		}
		return err
	}
	return nil
}

func wrapStderr(err error) error {
	if ee, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("%w: %s", err, ee.Stderr)
	}
	return err
}

// ExecBtrfs shells out to the real btrfs(8) binary.
type ExecBtrfs struct{ Bin string }

// NewExecBtrfs returns an ExecBtrfs defaulting Bin to "btrfs".
func NewExecBtrfs() *ExecBtrfs { return &ExecBtrfs{Bin: "btrfs"} }

// SubvolumeShow implements Btrfs.
func (b *ExecBtrfs) SubvolumeShow(ctx context.Context, mount string) (string, error) {
	cmd := exec.CommandContext(ctx, b.Bin, "subvolume", "show", mount)
	out, err := cmd.Output()
	if err != nil {
		return "", wrapStderr(err)
	}
	return string(out), nil
}

// ExecMount shells out to the real mount(8) binary with no arguments, which
// prints the current mount table in platform-specific free text.
type ExecMount struct{ Bin string }

// NewExecMount returns an ExecMount defaulting Bin to "mount".
func NewExecMount() *ExecMount { return &ExecMount{Bin: "mount"} }

// Text implements Mount.
func (m *ExecMount) Text(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, m.Bin)
	out, err := cmd.Output()
	if err != nil {
		return "", wrapStderr(err)
	}
	return string(out), nil
}
