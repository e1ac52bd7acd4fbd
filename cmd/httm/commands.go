package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/ubuntu/httm/internal/alias"
	"github.com/ubuntu/httm/internal/config"
	"github.com/ubuntu/httm/internal/deleted"
	"github.com/ubuntu/httm/internal/fileops"
	"github.com/ubuntu/httm/internal/fsinfo"
	"github.com/ubuntu/httm/internal/pathdata"
	"github.com/ubuntu/httm/internal/pathresolve"
	"github.com/ubuntu/httm/internal/platform"
	"github.com/ubuntu/httm/internal/rollforward"
	"github.com/ubuntu/httm/internal/snapindex"
	"github.com/ubuntu/httm/internal/versions"
	"github.com/ubuntu/httm/internal/walk"
)

// cliFlags groups the orthogonal flags shared by every subcommand: each one
// threads directly into a config.Context rather than living as ad hoc
// package-level state.
type cliFlags struct {
	dedupBy       string
	lastSnap      string
	deleted       string
	omitDitto     bool
	noHidden      bool
	noLive        bool
	noSnap        bool
	oneFilesystem bool
	noTraverse    bool
	noClones      bool
	altReplicated bool
	utc           bool
	json          bool
	aliases       []string
	altStore      string
	resticRepos   []string
}

func registerCommonFlags(cmd *cobra.Command, f *cliFlags) {
	cmd.PersistentFlags().StringVar(&f.dedupBy, "dedup-by", "metadata", "disable|metadata|contents|suspect")
	cmd.PersistentFlags().StringVar(&f.lastSnap, "last-snap", "none", "none|any|ditto-only|no-ditto-exclusive|no-ditto-inclusive|without")
	cmd.PersistentFlags().StringVar(&f.deleted, "deleted", "none", "none|depth-of-one|all|only")
	cmd.PersistentFlags().BoolVar(&f.omitDitto, "omit-ditto", false, "drop a final version identical to live")
	cmd.PersistentFlags().BoolVar(&f.noHidden, "no-hidden", false, "exclude hidden files from recursive output")
	cmd.PersistentFlags().BoolVar(&f.noLive, "no-live", false, "exclude live entries from output")
	cmd.PersistentFlags().BoolVar(&f.noSnap, "no-snap", false, "do not fail when a path has zero snapshot versions")
	cmd.PersistentFlags().BoolVar(&f.oneFilesystem, "one-filesystem", false, "do not cross filesystem boundaries while walking")
	cmd.PersistentFlags().BoolVar(&f.noTraverse, "no-traverse", false, "do not follow symlinks while walking")
	cmd.PersistentFlags().BoolVar(&f.noClones, "no-clones", false, "disable zero-copy reflink cloning when restoring files, forcing a regular copy")
	cmd.PersistentFlags().BoolVar(&f.altReplicated, "alt-replicated", false, "also search replicated alternative datasets")
	cmd.PersistentFlags().BoolVar(&f.utc, "utc", false, "display timestamps in UTC")
	cmd.PersistentFlags().BoolVar(&f.json, "json", false, "emit JSON instead of formatted text")
	cmd.PersistentFlags().StringSliceVar(&f.aliases, "map-aliases", nil, "colon-separated local:remote[:fstype] pairs")
	cmd.PersistentFlags().StringVar(&f.altStore, "alt-store", "none", "none|restic|time-machine")
	cmd.PersistentFlags().StringSliceVar(&f.resticRepos, "restic-repo", nil, "restic repository path(s), for --alt-store=restic")
}

func (f *cliFlags) toConfig() (*config.Context, error) {
	cfg := &config.Context{
		OmitDitto:     f.omitDitto,
		NoHidden:      f.noHidden,
		NoLive:        f.noLive,
		NoSnap:        f.noSnap,
		OneFilesystem: f.oneFilesystem,
		NoTraverse:    f.noTraverse,
		NoClones:      f.noClones || os.Getenv("HTTM_NO_CLONE") != "",
		AltReplicated: f.altReplicated,
		UTC:           f.utc,
		JSON:          f.json,
		Aliases:       f.aliases,
		ResticRepos:   f.resticRepos,
	}

	switch strings.ToLower(f.dedupBy) {
	case "disable":
		cfg.DedupBy = config.DedupDisabled
	case "metadata", "":
		cfg.DedupBy = config.DedupMetadata
	case "contents":
		cfg.DedupBy = config.DedupContents
	case "suspect":
		cfg.DedupBy = config.DedupSuspect
	default:
		return nil, fmt.Errorf("unknown --dedup-by %q", f.dedupBy)
	}

	switch strings.ToLower(f.lastSnap) {
	case "none", "":
		cfg.LastSnap = config.LastSnapNone
	case "any":
		cfg.LastSnap = config.LastSnapAny
	case "ditto-only":
		cfg.LastSnap = config.LastSnapDittoOnly
	case "no-ditto-exclusive":
		cfg.LastSnap = config.LastSnapNoDittoExclusive
	case "no-ditto-inclusive":
		cfg.LastSnap = config.LastSnapNoDittoInclusive
	case "without":
		cfg.LastSnap = config.LastSnapWithout
	default:
		return nil, fmt.Errorf("unknown --last-snap %q", f.lastSnap)
	}

	switch strings.ToLower(f.deleted) {
	case "none", "":
		cfg.Deleted = config.DeletedNone
	case "depth-of-one":
		cfg.Deleted = config.DeletedDepthOfOne
	case "all":
		cfg.Deleted = config.DeletedAll
	case "only":
		cfg.Deleted = config.DeletedOnly
	default:
		return nil, fmt.Errorf("unknown --deleted %q", f.deleted)
	}

	switch strings.ToLower(f.altStore) {
	case "none", "":
		cfg.AltStore = config.AltStoreNone
	case "restic":
		cfg.AltStore = config.AltStoreRestic
	case "time-machine":
		cfg.AltStore = config.AltStoreTimeMachine
	default:
		return nil, fmt.Errorf("unknown --alt-store %q", f.altStore)
	}

	return cfg, nil
}

// bundle groups the read-only startup bundle built once per invocation.
type bundle struct {
	inv      *fsinfo.Inventory
	snapIdx  pathdata.SnapIndex
	aliasMap pathdata.AliasMap
	altMap   pathdata.AltMap
}

func buildBundle(ctx context.Context, cfg *config.Context) (*bundle, error) {
	fsOpts := fsinfo.Options{}
	switch cfg.AltStore {
	case config.AltStoreRestic:
		fsOpts.UseAltStore = true
		fsOpts.AltStore = pathdata.FSType{Kind: pathdata.Restic, Restic: &pathdata.ResticData{Repos: cfg.ResticRepos}}
	case config.AltStoreTimeMachine:
		fsOpts.UseAltStore = true
		fsOpts.AltStore = pathdata.FSType{Kind: pathdata.Apfs}
	}

	inv, err := fsinfo.Build(ctx, fsOpts)
	if err != nil {
		return nil, xerrors.Errorf("building mount inventory: "+config.ErrorFormat, err)
	}

	sb := &snapindex.Builder{ZFS: platform.NewExecZFS(), Btrfs: platform.NewExecBtrfs(), EffectiveRoot: os.Geteuid() == 0}
	idx, err := sb.Build(ctx, inv.Mounts)
	if err != nil {
		return nil, xerrors.Errorf("building snap index: "+config.ErrorFormat, err)
	}

	aliasMap, err := alias.Parse(cfg.Aliases, splitEnv(os.Getenv("HTTM_MAP_ALIASES")))
	if err != nil {
		return nil, xerrors.Errorf("parsing aliases: "+config.ErrorFormat, err)
	}

	altMap := alias.AltReplicated(inv.Mounts)

	return &bundle{inv: inv, snapIdx: idx, aliasMap: aliasMap, altMap: altMap}, nil
}

func splitEnv(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func newDisplayCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "display PATH...",
		Short: "Show prior snapshot versions of one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := f.toConfig()
			if err != nil {
				return err
			}
			b, err := buildBundle(ctx, cfg)
			if err != nil {
				return err
			}
			resolver := &pathresolve.Resolver{Mounts: b.inv.Mounts, Aliases: b.aliasMap, Alts: b.altMap, AltReplicated: cfg.AltReplicated}
			enum := versions.NewEnumerator(b.snapIdx, cfg)

			result := pathdata.VersionsMap{}
			for _, p := range args {
				live, err := statLive(p)
				if err != nil {
					return err
				}
				proxBundle, err := resolver.Resolve(live)
				if err != nil {
					return xerrors.Errorf("resolving %q: "+config.ErrorFormat, p, err)
				}
				vs, err := enum.Versions(proxBundle, live)
				if err != nil {
					return xerrors.Errorf("enumerating versions of %q: "+config.ErrorFormat, p, err)
				}
				result[p] = vs
			}

			return printVersionsMap(result, cfg)
		},
	}
}

func statLive(p string) (pathdata.PathEntry, error) {
	fi, err := os.Lstat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return pathdata.PathEntry{Path: p, Phantom: true}, nil
		}
		return pathdata.PathEntry{}, err
	}
	return pathdata.PathEntry{Path: p, IsDir: fi.IsDir(), Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func printVersionsMap(m pathdata.VersionsMap, cfg *config.Context) error {
	if cfg.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}
	for live, vs := range m {
		fmt.Println(live)
		for _, v := range vs {
			fmt.Printf("  %s\t%s\t%d\n", v.ModTime.Format("2006-01-02 15:04:05"), v.Path, v.Size)
		}
	}
	return nil
}

func newRecursiveCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recursive DIR",
		Short: "Recursively list live and reconstructed deleted entries under DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := f.toConfig()
			if err != nil {
				return err
			}
			b, err := buildBundle(ctx, cfg)
			if err != nil {
				return err
			}
			resolver := &pathresolve.Resolver{Mounts: b.inv.Mounts, Aliases: b.aliasMap, Alts: b.altMap, AltReplicated: cfg.AltReplicated}

			w := walk.New(args[0], b.inv.Filters, true)
			w.NoHidden = cfg.NoHidden
			w.NoTraverse = cfg.NoTraverse
			w.OneFilesystem = cfg.OneFilesystem

			deletedOnly := cfg.Deleted == config.DeletedOnly
			sink := walk.SinkFunc(func(entries []pathdata.PathEntry) {
				for _, e := range entries {
					if (cfg.NoLive || deletedOnly) && !e.Phantom {
						continue
					}
					printEntry(e, cfg)
				}
			})

			if cfg.Deleted != config.DeletedNone {
				r := &deleted.Reconstructor{Resolver: resolver, SnapIndex: b.snapIdx, Depth: cfg.Deleted, Sink: sink}
				w.Deleted = r
			}

			return w.Run(sink)
		},
	}
}

func printEntry(e pathdata.PathEntry, cfg *config.Context) {
	if cfg.JSON {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(e)
		return
	}
	marker := ""
	if e.Phantom {
		marker = " (deleted)"
	}
	fmt.Printf("%s%s\n", e.Path, marker)
}

func newRestoreCmd(f *cliFlags) *cobra.Command {
	var mode string
	c := &cobra.Command{
		Use:   "restore SNAP_VERSION [DEST]",
		Short: "Restore a snapshot version back into the live tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := f.toConfig()
			if err != nil {
				return err
			}
			if mode == "" {
				mode = os.Getenv("HTTM_RESTORE_MODE")
			}
			if mode == "" {
				mode = "copy-only"
			}
			b, err := buildBundle(ctx, cfg)
			if err != nil {
				return err
			}

			src := args[0]
			var dest string
			if len(args) == 2 {
				dest = args[1]
			} else {
				dest, err = liveDestination(b, src)
				if err != nil {
					return err
				}
			}

			restoreBeside := func(preserve bool) error {
				// The copy modes never clobber an existing live file:
				// restore beside it under a timestamped name instead.
				if _, err := os.Lstat(dest); err == nil {
					ts := time.Now().UTC().Format("20060102T150405Z")
					dest = dest + ".httm_restored." + ts
				}
				if preserve {
					return fileops.CopyDirect(src, dest, false, cfg.NoClones)
				}
				return fileops.CopyOnly(src, dest, false, cfg.NoClones)
			}

			switch strings.ToLower(mode) {
			case "copy-only", "copy":
				return restoreBeside(false)
			case "copy-and-preserve", "preserve":
				return restoreBeside(true)
			case "overwrite", "yolo":
				return fileops.CopyDirect(src, dest, true, cfg.NoClones)
			case "overwrite-guarded", "guard":
				if err := guardRestore(ctx, b, dest); err != nil {
					return err
				}
				return fileops.CopyDirect(src, dest, true, cfg.NoClones)
			}
			return fmt.Errorf("unknown restore mode %q", mode)
		},
	}
	c.Flags().StringVar(&mode, "mode", "", "copy-only|copy-and-preserve|overwrite|overwrite-guarded (or HTTM_RESTORE_MODE)")
	return c
}

// liveDestination maps a snapshot version path back to its live
// equivalent: find the snap mount the source sits under, then rebase the
// remainder onto that snap mount's dataset.
func liveDestination(b *bundle, src string) (string, error) {
	for dataset, snapMounts := range b.snapIdx {
		for _, sm := range snapMounts {
			if src == sm || strings.HasPrefix(src, sm+"/") {
				rel := strings.TrimPrefix(strings.TrimPrefix(src, sm), "/")
				return filepath.Join(dataset, rel), nil
			}
		}
	}
	return "", fmt.Errorf("%q is not under any discovered snapshot mount; pass an explicit destination", src)
}

// guardRestore takes a user snapshot of dest's proximate dataset before an
// overwrite restore, so the pre-restore state remains reachable.
func guardRestore(ctx context.Context, b *bundle, dest string) error {
	resolver := &pathresolve.Resolver{Mounts: b.inv.Mounts}
	proxBundle, err := resolver.Resolve(pathdata.PathEntry{Path: dest})
	if err != nil {
		return err
	}
	meta, ok := b.inv.Mounts.Get(proxBundle.ProximateMount)
	if !ok || meta.FSType.Kind != pathdata.Zfs {
		return fmt.Errorf("guarded restore requires a ZFS dataset, %q is not one", proxBundle.ProximateMount)
	}
	return platform.NewExecZFS().Snapshot(ctx, meta.Source, rollforward.UserSnapshotName(), false)
}

func newMountsCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mounts",
		Short: "List the discovered mount inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.toConfig()
			if err != nil {
				return err
			}
			b, err := buildBundle(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			for _, m := range b.inv.Mounts.Mounts() {
				meta, _ := b.inv.Mounts.Get(m)
				fmt.Printf("%s\t%s\n", m, meta.Source)
			}
			return nil
		},
	}
}

func newListSnapsCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-snaps DATASET",
		Short: "List snapshot names for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := platform.NewExecZFS().ListSnapshotNames(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func newSnapCmd(f *cliFlags) *cobra.Command {
	var suffix string
	c := &cobra.Command{
		Use:   "snap DATASET",
		Short: "Take an ad hoc snapshot of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := rollforward.UserSnapshotName()
			if suffix != "" {
				name = strings.TrimSuffix(name, name[strings.LastIndex(name, "_")+1:]) + suffix
			}
			return platform.NewExecZFS().Snapshot(cmd.Context(), args[0], name, true)
		},
	}
	c.Flags().StringVar(&suffix, "suffix", "", "override the random name suffix")
	return c
}

func newRollForwardCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "roll-forward DATASET@SNAP",
		Short: "Roll a dataset forward to a named snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := f.toConfig()
			if err != nil {
				return err
			}
			b, err := buildBundle(ctx, cfg)
			if err != nil {
				return err
			}
			rf, err := rollforward.New(args[0], b.inv.Mounts)
			if err != nil {
				return err
			}
			rf.ZFS = platform.NewExecZFS()
			rf.NoClones = cfg.NoClones
			if err := rf.Exec(ctx); err != nil {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newPruneCmd(f *cliFlags) *cobra.Command {
	var omitN int
	c := &cobra.Command{
		Use:   "prune DATASET",
		Short: "Destroy old httm-managed guard and user snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z := platform.NewExecZFS()
			names, err := z.ListSnapshotNames(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var candidates []string
			for _, n := range names {
				if strings.Contains(n, "httmSnapRollForward") || strings.HasPrefix(nameOnly(n), "snap_") {
					candidates = append(candidates, n)
				}
			}
			if omitN >= len(candidates) {
				candidates = nil
			} else if omitN > 0 {
				candidates = candidates[:len(candidates)-omitN]
			}
			for _, n := range candidates {
				if err := z.Destroy(cmd.Context(), n); err != nil {
					return err
				}
			}
			return nil
		},
	}
	c.Flags().IntVar(&omitN, "omit-last", 0, "keep the N most recent matching snapshots")
	return c
}

func nameOnly(full string) string {
	idx := strings.LastIndex(full, "@")
	if idx == -1 {
		return full
	}
	return full[idx+1:]
}
