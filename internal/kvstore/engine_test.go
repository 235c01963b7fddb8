package kvstore_test

import (
	"context"
	"testing"

	"github.com/objectfs/vfscore/internal/kvstore"
	"github.com/objectfs/vfscore/internal/kvstore/memkv"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfsflag"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *kvstore.Engine {
	t.Helper()
	e := kvstore.New(memkv.New("test"), true, false)
	require.NoError(t, e.MakeRoot(context.Background()))
	return e
}

func TestMakeRootIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.MakeRoot(context.Background()))
	stat, err := e.Stat(context.Background(), "/")
	require.NoError(t, err)
	require.True(t, stat.IsDirectory())
}

func TestMkdirAndReadDir(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(ctx, "/a", 0o755, vfscred.Root))
	require.True(t, e.Exists(ctx, "/a"))

	entries, err := e.ReadDir(ctx, "/")
	require.NoError(t, err)
	require.Contains(t, entries, "a")
}

func TestMkdirDuplicateFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(ctx, "/a", 0o755, vfscred.Root))
	err := e.Mkdir(ctx, "/a", 0o755, vfscred.Root)
	require.Error(t, err)
}

func TestOpenCreateWriteReadFile(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	flag, _ := vfsflag.Parse("w")
	f, err := e.Open(ctx, "/x.txt", flag, 0o644, vfscred.Root)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	rflag, _ := vfsflag.Parse("r")
	f2, err := e.Open(ctx, "/x.txt", rflag, 0, vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, "hello", string(f2.Bytes()))
}

func TestOpenReadMissingFileFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	flag, _ := vfsflag.Parse("r")
	_, err := e.Open(ctx, "/missing.txt", flag, 0, vfscred.Root)
	require.Error(t, err)
}

func TestUnlinkRemovesFile(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	flag, _ := vfsflag.Parse("w")
	f, err := e.Open(ctx, "/x.txt", flag, 0o644, vfscred.Root)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	require.NoError(t, e.Unlink(ctx, "/x.txt", vfscred.Root))
	require.False(t, e.Exists(ctx, "/x.txt"))
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(ctx, "/a", 0o755, vfscred.Root))
	require.NoError(t, e.Mkdir(ctx, "/a/b", 0o755, vfscred.Root))
	err := e.Rmdir(ctx, "/a", vfscred.Root)
	require.Error(t, err)

	require.NoError(t, e.Rmdir(ctx, "/a/b", vfscred.Root))
	require.NoError(t, e.Rmdir(ctx, "/a", vfscred.Root))
}

func TestRenameMovesFile(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(ctx, "/dir", 0o755, vfscred.Root))

	flag, _ := vfsflag.Parse("w")
	f, err := e.Open(ctx, "/x.txt", flag, 0o644, vfscred.Root)
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	require.NoError(t, e.Rename(ctx, "/x.txt", "/dir/y.txt", vfscred.Root))
	require.False(t, e.Exists(ctx, "/x.txt"))
	require.True(t, e.Exists(ctx, "/dir/y.txt"))

	rflag, _ := vfsflag.Parse("r")
	f2, err := e.Open(ctx, "/dir/y.txt", rflag, 0, vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, "abc", string(f2.Bytes()))
}

func TestRenameIntoOwnDescendantFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(ctx, "/a", 0o755, vfscred.Root))
	err := e.Rename(ctx, "/a", "/a/b", vfscred.Root)
	require.Error(t, err)
}

func TestSymlinksUnsupported(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.Error(t, e.Symlink(ctx, "/a", "/b", vfscred.Root))
	require.Error(t, e.Link(ctx, "/a", "/b", vfscred.Root))
	_, err := e.Readlink(ctx, "/a")
	require.Error(t, err)
}
