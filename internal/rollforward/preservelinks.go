package rollforward

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ubuntu/httm/internal/fileops"
	"github.com/ubuntu/httm/internal/hardlink"
)

// PreserveLinks runs the four-step hard-link preservation algorithm:
// diff orphans, remove the live/snap link-map intersection, remove
// extra live links, then re-establish snap-side link groups on the live
// side. It returns the union of every path it touched, an exclusion set the
// caller must not re-apply via the reverse diff.
func PreserveLinks(snapMap, liveMap *hardlink.Map, snapRoot, liveRoot string, noClones bool) (map[string]struct{}, error) {
	exclusions := map[string]struct{}{}

	snapToLive := func(snapPath string) string {
		rel := strings.TrimPrefix(strings.TrimPrefix(snapPath, snapRoot), "/")
		return filepath.Join(liveRoot, rel)
	}
	liveToSnap := func(livePath string) string {
		rel := strings.TrimPrefix(strings.TrimPrefix(livePath, liveRoot), "/")
		return filepath.Join(snapRoot, rel)
	}

	if err := diffOrphans(snapMap, liveMap, snapToLive, exclusions, noClones); err != nil {
		return nil, err
	}
	if err := removeMapIntersection(snapMap, liveMap, snapToLive, exclusions); err != nil {
		return nil, err
	}
	if err := removeExtraLiveLinks(liveMap, liveToSnap, exclusions); err != nil {
		return nil, err
	}
	if err := preserveSnapLinks(snapMap, snapToLive, exclusions, noClones); err != nil {
		return nil, err
	}

	return exclusions, nil
}

// diffOrphans removes live-only singleton paths and copies in snap-only
// singleton paths.
func diffOrphans(snapMap, liveMap *hardlink.Map, snapToLive func(string) string, exclusions map[string]struct{}, noClones bool) error {
	snapTranslated := map[string]struct{}{}
	for p := range snapMap.Singletons {
		snapTranslated[snapToLive(p)] = struct{}{}
	}

	for p := range liveMap.Singletons {
		if _, ok := snapTranslated[p]; !ok {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return err
			}
			exclusions[p] = struct{}{}
		}
	}
	for p := range snapMap.Singletons {
		live := snapToLive(p)
		if _, ok := liveMap.Singletons[live]; !ok {
			if err := fileops.CopyDirect(p, live, true, noClones); err != nil {
				return err
			}
			exclusions[live] = struct{}{}
		}
	}
	return nil
}

// removeMapIntersection removes, on the live side, every path that is a
// link-map member on both sides, so it can be re-linked in preserveSnapLinks.
func removeMapIntersection(snapMap, liveMap *hardlink.Map, snapToLive func(string) string, exclusions map[string]struct{}) error {
	liveSet := map[string]struct{}{}
	for _, paths := range liveMap.LinkMap {
		for _, p := range paths {
			liveSet[p] = struct{}{}
		}
	}
	for _, paths := range snapMap.LinkMap {
		for _, p := range paths {
			live := snapToLive(p)
			if _, ok := liveSet[live]; ok {
				if err := os.Remove(live); err != nil && !os.IsNotExist(err) {
					return err
				}
				exclusions[live] = struct{}{}
			}
		}
	}
	return nil
}

// removeExtraLiveLinks removes any live link-map path whose translated snap
// path no longer exists (it would otherwise become orphaned).
func removeExtraLiveLinks(liveMap *hardlink.Map, liveToSnap func(string) string, exclusions map[string]struct{}) error {
	for _, paths := range liveMap.LinkMap {
		for _, p := range paths {
			snapPath := liveToSnap(p)
			if _, err := os.Lstat(snapPath); os.IsNotExist(err) {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return err
				}
				exclusions[p] = struct{}{}
			}
		}
	}
	return nil
}

// preserveSnapLinks re-establishes every snap-side inode group on the live
// side: find or copy in a canonical original, then hard-link the rest.
func preserveSnapLinks(snapMap *hardlink.Map, snapToLive func(string) string, exclusions map[string]struct{}, noClones bool) error {
	for _, snapPaths := range snapMap.LinkMap {
		var original string
		for _, sp := range snapPaths {
			live := snapToLive(sp)
			if _, err := os.Lstat(live); err == nil {
				original = live
				break
			}
		}
		if original == "" {
			first := snapToLive(snapPaths[0])
			if err := fileops.CopyDirect(snapPaths[0], first, true, noClones); err != nil {
				return err
			}
			original = first
			exclusions[first] = struct{}{}
		}
		for _, sp := range snapPaths {
			live := snapToLive(sp)
			if live == original {
				continue
			}
			if err := fileops.HardLink(original, live); err != nil {
				return err
			}
			exclusions[live] = struct{}{}
		}
		_ = fileops.PreserveAttrs(snapPaths[0], original, nil)
	}
	return nil
}
