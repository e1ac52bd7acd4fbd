package fsinfo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubuntu/httm/internal/pathdata"
)

func TestParseMountCmdTextGNUFormat(t *testing.T) {
	text := "rpool/home on /home type zfs (rw,relatime)\n" +
		"/dev/sda2 on /boot type ext4 (rw)\n"
	raws, err := parseMountCmdText(text)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	require.Equal(t, "rpool/home", raws[0].source)
	require.Equal(t, "/home", raws[0].target)
	require.Equal(t, "zfs", raws[0].fstype)
}

func TestParseMountCmdTextBSDFormat(t *testing.T) {
	text := "tank on /tank (zfs, local, nfsv4acls)\n"
	raws, err := parseMountCmdText(text)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.Equal(t, "tank", raws[0].source)
	require.Equal(t, "/tank", raws[0].target)
	require.Equal(t, "zfs", raws[0].fstype)
}

func TestParseMountCmdTextSkipsUnparseableLines(t *testing.T) {
	raws, err := parseMountCmdText("garbage without separators\n")
	require.NoError(t, err)
	require.Empty(t, raws)
}

func TestClassifyBtrfsRootSubvolIsFSTreeSentinel(t *testing.T) {
	fst := classifyBtrfs("rw,relatime,subvolid=5,subvol=/")
	require.Equal(t, pathdata.Btrfs, fst.Kind)
	require.Equal(t, "<FS_TREE>", fst.Btrfs.BaseSubvol)
}

func TestClassifyBtrfsNamedSubvol(t *testing.T) {
	fst := classifyBtrfs("rw,relatime,subvolid=256,subvol=/@home")
	require.Equal(t, "/@home", fst.Btrfs.BaseSubvol)
}

func TestHasNilfs2Checkpoint(t *testing.T) {
	require.True(t, HasNilfs2Checkpoint("ro,relatime,cp=42"))
	require.False(t, HasNilfs2Checkpoint("rw,relatime,gcpid=120"))
}
