// Package fsinfo builds the mount inventory and filter-dirs bundle.
// It prefers parsing /proc/mounts via github.com/moby/sys/mountinfo, falls
// back to /etc/mnttab (same format), and finally to the platform mount(8)
// command.
package fsinfo

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/moby/sys/mountinfo"

	"github.com/ubuntu/httm/internal/i18n"
	"github.com/ubuntu/httm/internal/pathdata"
	"github.com/ubuntu/httm/internal/platform"
)

const (
	zfsHiddenDir    = ".zfs/snapshot"
	snapperDir      = ".snapshots"
	procMounts      = "/proc/mounts"
	etcMnttab       = "/etc/mnttab"
	timeMachineRoot = "/Backups.backupdb"
)

// Inventory bundles the Mount Inventory with the Filter Dirs computed
// alongside it, matching the data model's "filesystem-info bundle".
type Inventory struct {
	Mounts  *pathdata.MountInventory
	Filters pathdata.FilterDirs
}

// Options narrows mount classification.
type Options struct {
	AltStore    pathdata.FSType
	UseAltStore bool
	MountCmd    platform.Mount
}

type rawMount struct {
	source  string
	target  string
	fstype  string
	options string
}

// Build reads the mount table, classifies each mount by filesystem type,
// and returns the Mount Inventory plus the filter dirs to suppress during
// live traversal.
func Build(ctx context.Context, opts Options) (*Inventory, error) {
	raws, err := readMountTable(ctx, opts.MountCmd)
	if err != nil {
		return nil, fmt.Errorf("could not read mount table: %w", err)
	}

	datasets := make(map[string]pathdata.DatasetMetadata)
	filters := pathdata.NewFilterDirs()

	for _, m := range raws {
		if strings.Contains(m.target, zfsHiddenDir) {
			continue
		}
		if hasNilfs2Checkpoint(m) {
			continue
		}

		switch {
		case m.fstype == "zfs":
			datasets[m.target] = pathdata.DatasetMetadata{Source: m.source, FSType: pathdata.FSType{Kind: pathdata.Zfs}}
		case m.fstype == "btrfs":
			datasets[m.target] = pathdata.DatasetMetadata{Source: m.source, FSType: classifyBtrfs(m.options)}
		case m.fstype == "nilfs2":
			datasets[m.target] = pathdata.DatasetMetadata{Source: m.source, FSType: pathdata.FSType{Kind: pathdata.Nilfs2}}
		case isNetworkFS(m.fstype):
			if kind, ok := probeNetworkMount(m.target); ok {
				datasets[m.target] = pathdata.DatasetMetadata{Source: m.source, FSType: kind, LinkType: pathdata.Network}
			} else {
				filters.Add(m.target)
			}
		case strings.Contains(m.source, "restic"):
			fst, resolved := resolveResticLatest(m.source, opts.UseAltStore && opts.AltStore.Kind == pathdata.Restic)
			datasets[resolved] = pathdata.DatasetMetadata{Source: m.source, FSType: fst}
		default:
			filters.Add(m.target)
		}
	}

	if isDarwin() {
		filters.Add(timeMachineRoot)
		filters.Add(filepath.Join("/Volumes"))
	}

	if len(datasets) == 0 {
		if !opts.UseAltStore && isDarwin() {
			if _, err := os.Stat(timeMachineRoot); err == nil {
				datasets[timeMachineRoot] = pathdata.DatasetMetadata{Source: timeMachineRoot, FSType: pathdata.FSType{Kind: pathdata.Apfs}}
			}
		}
		if len(datasets) == 0 {
			return nil, fmt.Errorf(i18n.G("no valid datasets"))
		}
	}

	return &Inventory{
		Mounts:  pathdata.NewMountInventory(datasets),
		Filters: filters,
	}, nil
}

// RawMount is the unclassified view of one mount table entry, exposed so
// internal/snapindex can re-parse the mount table for nilfs2 checkpoint
// mounts: these are intentionally excluded from the live Mount
// Inventory's dataset map in Build above (a checkpoint mount is itself a
// snapshot, not a dataset), but the Snap Index needs them back.
type RawMount struct {
	Source  string
	Target  string
	FSType  string
	Options string
}

// ReadMountTable re-parses the mount table via the same
// /proc/mounts -> /etc/mnttab -> mount(8) fallback chain Build uses,
// without any dataset classification.
func ReadMountTable(ctx context.Context, mountCmd platform.Mount) ([]RawMount, error) {
	raws, err := readMountTable(ctx, mountCmd)
	if err != nil {
		return nil, err
	}
	out := make([]RawMount, len(raws))
	for i, r := range raws {
		out[i] = RawMount{Source: r.source, Target: r.target, FSType: r.fstype, Options: r.options}
	}
	return out, nil
}

// HasNilfs2Checkpoint reports whether a mount's options include a cp=
// checkpoint marker.
func HasNilfs2Checkpoint(options string) bool {
	return hasNilfs2Checkpoint(rawMount{options: options})
}

func readMountTable(ctx context.Context, mountCmd platform.Mount) ([]rawMount, error) {
	if f, err := os.Open(procMounts); err == nil {
		defer f.Close()
		return parseMountinfoFile(procMounts)
	}
	if f, err := os.Open(etcMnttab); err == nil {
		defer f.Close()
		var raws []rawMount
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) < 4 {
				continue
			}
			raws = append(raws, rawMount{source: fields[0], target: fields[1], fstype: fields[2], options: fields[3]})
		}
		return raws, sc.Err()
	}
	if mountCmd == nil {
		mountCmd = platform.NewExecMount()
	}
	text, err := mountCmd.Text(ctx)
	if err != nil {
		return nil, err
	}
	return parseMountCmdText(text)
}

func parseMountinfoFile(path string) ([]rawMount, error) {
	infos, err := mountinfo.GetMounts(func(i *mountinfo.Info) (bool, bool) {
		return false, false
	})
	if err != nil {
		return nil, err
	}
	raws := make([]rawMount, 0, len(infos))
	for _, i := range infos {
		raws = append(raws, rawMount{
			source:  i.Source,
			target:  i.Mountpoint,
			fstype:  i.FSType,
			options: i.VFSOptions + "," + i.Options,
		})
	}
	_ = path // mountinfo.GetMounts always reads /proc/self/mountinfo; path kept for clarity/logging.
	return raws, nil
}

// parseMountCmdText is the fallback parser for free-form `mount` command
// output: GNU format uses " type "; BusyBox/BSD use " (".
func parseMountCmdText(text string) ([]rawMount, error) {
	var raws []rawMount
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var source, target, fstype, opts string
		if idx := strings.Index(line, " type "); idx != -1 {
			left := line[:idx]
			rest := line[idx+len(" type "):]
			fields := strings.SplitN(left, " on ", 2)
			if len(fields) != 2 {
				continue
			}
			source, target = fields[0], fields[1]
			restFields := strings.SplitN(rest, " ", 2)
			fstype = restFields[0]
			if len(restFields) == 2 {
				opts = strings.Trim(restFields[1], "()")
			}
		} else if idx := strings.Index(line, " ("); idx != -1 {
			left := line[:idx]
			rest := strings.TrimSuffix(line[idx+1:], ")")
			fields := strings.SplitN(left, " on ", 2)
			if len(fields) != 2 {
				continue
			}
			source, target = fields[0], fields[1]
			opts = strings.Trim(rest, "()")
			parts := strings.SplitN(opts, ",", 2)
			fstype = parts[0]
			if len(parts) == 2 {
				opts = parts[1]
			}
		} else {
			continue
		}
		raws = append(raws, rawMount{source: strings.TrimSpace(source), target: strings.TrimSpace(target), fstype: fstype, options: opts})
	}
	return raws, sc.Err()
}

func hasNilfs2Checkpoint(m rawMount) bool {
	for _, o := range strings.Split(m.options, ",") {
		if strings.HasPrefix(strings.TrimSpace(o), "cp=") {
			return true
		}
	}
	return false
}

func isNetworkFS(fstype string) bool {
	switch fstype {
	case "smbfs", "cifs", "nfs", "nfs4", "afpfs":
		return true
	}
	return false
}

// probeNetworkMount marks a network mount as Zfs (generically: "has a
// hidden snapshot dir") if it contains the canonical hidden snapshot
// segment.
func probeNetworkMount(target string) (pathdata.FSType, bool) {
	if _, err := os.Stat(filepath.Join(target, zfsHiddenDir)); err == nil {
		return pathdata.FSType{Kind: pathdata.Zfs}, true
	}
	if _, err := os.Stat(filepath.Join(target, snapperDir)); err == nil {
		return pathdata.FSType{Kind: pathdata.Btrfs, Btrfs: &pathdata.BtrfsData{}}, true
	}
	return pathdata.FSType{}, false
}

// classifyBtrfs parses the subvol/subvolid mount options, representing the
// root subvolume (subvolid=5) with the <FS_TREE> sentinel.
func classifyBtrfs(options string) pathdata.FSType {
	data := &pathdata.BtrfsData{}
	for _, o := range strings.Split(options, ",") {
		o = strings.TrimSpace(o)
		switch {
		case strings.HasPrefix(o, "subvolid="):
			if strings.TrimPrefix(o, "subvolid=") == "5" {
				data.BaseSubvol = "<FS_TREE>"
			}
		case strings.HasPrefix(o, "subvol="):
			v := strings.TrimPrefix(o, "subvol=")
			if data.BaseSubvol == "" {
				data.BaseSubvol = v
			}
		}
	}
	if data.BaseSubvol == "" {
		data.BaseSubvol = "<FS_TREE>"
	}
	return pathdata.FSType{Kind: pathdata.Btrfs, Btrfs: data}
}

func isDarwin() bool { return runtime.GOOS == "darwin" }
