package pathresolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubuntu/httm/internal/pathdata"
)

func TestResolvePicksMostSpecificAncestor(t *testing.T) {
	inv := pathdata.NewMountInventory(map[string]pathdata.DatasetMetadata{
		"/":          {Source: "rpool/ROOT"},
		"/home":      {Source: "rpool/home"},
		"/home/user": {Source: "rpool/home/user"},
	})
	r := &Resolver{Mounts: inv}

	bundle, err := r.Resolve(pathdata.PathEntry{Path: "/home/user/docs/file.txt"})
	require.NoError(t, err)
	require.Equal(t, "/home/user", bundle.ProximateMount)
	require.Equal(t, []string{"/home/user"}, bundle.DatasetsOfInterest)
}

func TestResolveFindsMountForDeeplyNestedPath(t *testing.T) {
	inv := pathdata.NewMountInventory(map[string]pathdata.DatasetMetadata{
		"/home": {Source: "rpool/home"},
	})
	r := &Resolver{Mounts: inv}

	bundle, err := r.Resolve(pathdata.PathEntry{Path: "/home/user/a/b/c/d/e/f/file.txt"})
	require.NoError(t, err)
	require.Equal(t, "/home", bundle.ProximateMount)
}

func TestResolveFailsWhenNoAncestorMounted(t *testing.T) {
	inv := pathdata.NewMountInventory(map[string]pathdata.DatasetMetadata{
		"/srv": {Source: "rpool/srv"},
	})
	r := &Resolver{Mounts: inv}

	_, err := r.Resolve(pathdata.PathEntry{Path: "/home/user/docs/file.txt"})
	require.Error(t, err)
}

func TestResolveIncludesAltsWhenEnabled(t *testing.T) {
	inv := pathdata.NewMountInventory(map[string]pathdata.DatasetMetadata{
		"/home": {Source: "rpool/home"},
	})
	r := &Resolver{
		Mounts:        inv,
		Alts:          pathdata.AltMap{"/home": {"/backup/home"}},
		AltReplicated: true,
	}

	bundle, err := r.Resolve(pathdata.PathEntry{Path: "/home/user"})
	require.NoError(t, err)
	require.Equal(t, []string{"/home", "/backup/home"}, bundle.DatasetsOfInterest)
}

func TestRelativePath(t *testing.T) {
	require.Equal(t, "docs/file.txt", RelativePath("/home/user/docs/file.txt", "/home/user"))
	require.Equal(t, "", RelativePath("/home/user", "/home/user"))
}
