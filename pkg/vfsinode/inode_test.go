package vfsinode

import (
	"testing"

	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/stretchr/testify/require"
)

func TestModeTypeRoundTrip(t *testing.T) {
	mode := ModeOf(TypeDirectory, 0o755)
	require.Equal(t, TypeDirectory, TypeOf(mode))
	require.Equal(t, uint16(0o755), PermOf(mode))
}

func TestChmodPreservesType(t *testing.T) {
	s := NewStats(TypeFile, 0o644, 0, 0, 1000)
	s = s.Chmod(0o600)
	require.Equal(t, TypeFile, s.Type())
	require.Equal(t, uint16(0o600), PermOf(s.Mode))
}

func TestChownRejectsOutOfRange(t *testing.T) {
	s := NewStats(TypeFile, 0o644, 0, 0, 1000)
	_, ok := s.Chown(-1, 0)
	require.False(t, ok)
	_, ok = s.Chown(1<<33, 0)
	require.False(t, ok)
	updated, ok := s.Chown(42, 7)
	require.True(t, ok)
	require.Equal(t, uint32(42), updated.UID)
	require.Equal(t, uint32(7), updated.GID)
}

func TestBlocks(t *testing.T) {
	s := Stats{Size: 0}
	require.Equal(t, int64(0), s.Blocks())
	s.Size = 1
	require.Equal(t, int64(1), s.Blocks())
	s.Size = 512
	require.Equal(t, int64(1), s.Blocks())
	s.Size = 513
	require.Equal(t, int64(2), s.Blocks())
}

func TestInodeSerializeRoundTrip(t *testing.T) {
	n := NewInode("abc-123", TypeFile, 0o644, 5, 1, 2, 12345.5)
	buf := n.Serialize()
	require.Equal(t, serializedInodeFixedLen+len("abc-123"), len(buf))

	back, err := Deserialize(buf)
	require.NoError(t, err)
	require.Equal(t, n, back)
}

func TestInodeUpdateDetectsChange(t *testing.T) {
	n := NewInode(RootID, TypeDirectory, 0o777, 0, 0, 0, 1000)
	changed := n.Update(n.ToStats())
	require.False(t, changed)

	s := n.ToStats()
	s.UID = 9
	changed = n.Update(s)
	require.True(t, changed)
	require.Equal(t, uint32(9), n.UID)

	s = n.ToStats()
	s.GID = 11
	changed = n.Update(s)
	require.True(t, changed)
	require.Equal(t, uint32(11), n.GID)
}

func TestStatsSerializeRoundTrip(t *testing.T) {
	s := NewStats(TypeFile, 0o644, 3, 4, 999.5)
	s.Size = 42
	buf := s.Serialize()
	require.Len(t, buf, serializedStatsLen)

	back, err := DeserializeStats(buf)
	require.NoError(t, err)
	require.Equal(t, s.Size, back.Size)
	require.Equal(t, s.Mode, back.Mode)
	require.Equal(t, s.UID, back.UID)
	require.Equal(t, s.GID, back.GID)
}

func TestHasAccess(t *testing.T) {
	mode := ModeOf(TypeFile, 0o640)
	owner := vfscred.New(1, 1)
	group := vfscred.New(2, 1)
	other := vfscred.New(3, 3)

	require.True(t, HasAccess(mode, 1, 1, owner, false))
	require.True(t, HasAccess(mode, 1, 1, owner, true))
	require.True(t, HasAccess(mode, 1, 1, group, false))
	require.False(t, HasAccess(mode, 1, 1, group, true))
	require.False(t, HasAccess(mode, 1, 1, other, false))
	require.True(t, HasAccess(mode, 1, 1, vfscred.Root, true))
}
