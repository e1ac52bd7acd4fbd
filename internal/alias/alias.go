// Package alias implements snapshot-point aliases and alt-replication
// discovery: user-specified local/remote directory pairs consulted
// before the Mount Inventory, and the alt-replicated dataset computation.
package alias

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ubuntu/httm/internal/pathdata"
)

// Parse builds an AliasMap from colon-separated "local:remote[:fstype]"
// pairs, as accepted from the CLI flag and the HTTM_MAP_ALIASES
// environment variable (CLI entries win on local_dir collision).
func Parse(cliPairs, envPairs []string) (pathdata.AliasMap, error) {
	m := pathdata.AliasMap{}
	if err := addPairs(m, envPairs); err != nil {
		return nil, err
	}
	if err := addPairs(m, cliPairs); err != nil {
		return nil, err
	}
	return m, nil
}

func addPairs(m pathdata.AliasMap, pairs []string) error {
	for _, p := range pairs {
		parts := strings.Split(p, ":")
		if len(parts) < 2 {
			return fmt.Errorf("malformed alias %q: expected local:remote[:fstype]", p)
		}
		fst := pathdata.FSType{Kind: pathdata.Zfs}
		if len(parts) >= 3 {
			switch strings.ToLower(parts[2]) {
			case "btrfs":
				fst = pathdata.FSType{Kind: pathdata.Btrfs, Btrfs: &pathdata.BtrfsData{}}
			case "nilfs2":
				fst = pathdata.FSType{Kind: pathdata.Nilfs2}
			}
		}
		m[parts[0]] = pathdata.Alias{LocalDir: parts[0], RemoteDir: parts[1], FSType: fst}
	}
	return nil
}

// Resolve returns the alias whose local_dir is an ancestor of path, if any,
// preferring the most specific (longest) match.
func Resolve(m pathdata.AliasMap, path string) (pathdata.Alias, bool) {
	var best pathdata.Alias
	found := false
	for local, a := range m {
		if local == path || strings.HasPrefix(path, local+"/") {
			if !found || len(local) > len(best.LocalDir) {
				best = a
				found = true
			}
		}
	}
	return best, found
}

// AltReplicated computes, for each proximate dataset mount, the list of
// other mounts whose source suffix-matches but does not equal the
// proximate's source, sorted by mount-path length ascending (shorter paths
// are typically the "more canonical" member of a replicated set).
func AltReplicated(inv *pathdata.MountInventory) pathdata.AltMap {
	out := pathdata.AltMap{}
	mounts := inv.Mounts()
	for _, p := range mounts {
		pm, _ := inv.Get(p)
		var alts []string
		for _, o := range mounts {
			if o == p {
				continue
			}
			om, _ := inv.Get(o)
			if om.Source == pm.Source {
				continue
			}
			if strings.HasSuffix(om.Source, pm.Source) {
				alts = append(alts, o)
			}
		}
		if len(alts) == 0 {
			continue
		}
		sort.Slice(alts, func(i, j int) bool { return len(alts[i]) < len(alts[j]) })
		out[p] = alts
	}
	return out
}
