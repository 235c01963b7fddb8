package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/internal/kvstore"
	"github.com/objectfs/vfscore/internal/kvstore/memkv"
	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfsflag"
)

func newLayer(t *testing.T, name string) *kvstore.Engine {
	t.Helper()
	e := kvstore.New(memkv.New(name), true, false)
	require.NoError(t, e.MakeRoot(context.Background()))
	return e
}

func newTestOverlay(t *testing.T) (*Engine, *kvstore.Engine, *kvstore.Engine) {
	t.Helper()
	upper := newLayer(t, "upper")
	lower := newLayer(t, "lower")
	o := New(upper, lower)
	require.NoError(t, o.Init(context.Background()))
	return o, upper, lower
}

func TestExistsHidesDeletedLowerFile(t *testing.T) {
	ctx := context.Background()
	o, _, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/a.txt", []byte("lower"), 0o644, vfscred.Root))
	require.True(t, o.Exists(ctx, "/a.txt"))

	require.NoError(t, o.Unlink(ctx, "/a.txt", vfscred.Root))
	require.False(t, o.Exists(ctx, "/a.txt"))
}

func TestOpenReadOnlyLowerFileDoesNotCopyUp(t *testing.T) {
	ctx := context.Background()
	o, upper, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/a.txt", []byte("hello"), 0o644, vfscred.Root))

	data, err := vfsbackend.ReadFile(ctx, o, "/a.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.False(t, upper.Exists(ctx, "/a.txt"))
}

func TestWriteThroughOverlayFileCopiesUp(t *testing.T) {
	ctx := context.Background()
	o, upper, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/a.txt", []byte("hello"), 0o644, vfscred.Root))

	flag, err := vfsflag.Parse("r+")
	require.NoError(t, err)
	f, err := o.Open(ctx, "/a.txt", flag, 0, vfscred.Root)
	require.NoError(t, err)
	_, err = f.Write([]byte("HELLO"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	require.True(t, upper.Exists(ctx, "/a.txt"))
	data, err := vfsbackend.ReadFile(ctx, upper, "/a.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("HELLO"), data)
}

func TestChmodCopiesUpFromLower(t *testing.T) {
	ctx := context.Background()
	o, upper, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/a.txt", []byte("hello"), 0o644, vfscred.Root))

	require.NoError(t, o.Chmod(ctx, "/a.txt", 0o600, vfscred.Root))
	require.True(t, upper.Exists(ctx, "/a.txt"))
}

func TestUnlinkMarksDeletionLogForLowerOnlyFile(t *testing.T) {
	ctx := context.Background()
	o, upper, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/a.txt", []byte("hello"), 0o644, vfscred.Root))

	require.NoError(t, o.Unlink(ctx, "/a.txt", vfscred.Root))
	require.False(t, o.Exists(ctx, "/a.txt"))

	require.Eventually(t, func() bool {
		return upper.Exists(ctx, deleteLogPath)
	}, time.Second, 5*time.Millisecond)

	o2 := New(upper, lower)
	require.NoError(t, o2.Init(ctx))
	require.False(t, o2.Exists(ctx, "/a.txt"))
}

func TestReadDirUnionsAndFiltersDeleted(t *testing.T) {
	ctx := context.Background()
	o, upper, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/x.txt", []byte("x"), 0o644, vfscred.Root))
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/y.txt", []byte("y"), 0o644, vfscred.Root))
	require.NoError(t, vfsbackend.WriteFile(ctx, upper, "/z.txt", []byte("z"), 0o644, vfscred.Root))

	require.NoError(t, o.Unlink(ctx, "/y.txt", vfscred.Root))

	names, err := o.ReadDir(ctx, "/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x.txt", "z.txt"}, names)
}

func TestRenameFileAcrossLayers(t *testing.T) {
	ctx := context.Background()
	o, upper, lower := newTestOverlay(t)
	require.NoError(t, vfsbackend.WriteFile(ctx, lower, "/a.txt", []byte("hello"), 0o644, vfscred.Root))

	require.NoError(t, o.Rename(ctx, "/a.txt", "/b.txt", vfscred.Root))
	require.False(t, o.Exists(ctx, "/a.txt"))
	require.True(t, o.Exists(ctx, "/b.txt"))
	require.True(t, upper.Exists(ctx, "/b.txt"))
}

func TestOperationsBeforeInitFail(t *testing.T) {
	upper := newLayer(t, "u2")
	lower := newLayer(t, "l2")
	o := New(upper, lower)
	require.False(t, o.Exists(context.Background(), "/a.txt"))
	_, err := o.Stat(context.Background(), "/a.txt")
	require.Error(t, err)
}
