package folderfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/internal/kvstore"
	"github.com/objectfs/vfscore/internal/kvstore/memkv"
	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/pkg/vfscred"
)

func newLayer(t *testing.T) *kvstore.Engine {
	t.Helper()
	e := kvstore.New(memkv.New("test"), true, false)
	require.NoError(t, e.MakeRoot(context.Background()))
	return e
}

func TestNewCreatesFolderOnWritableBackend(t *testing.T) {
	ctx := context.Background()
	inner := newLayer(t)
	a, err := New(ctx, inner, "/scoped", vfscred.Root)
	require.NoError(t, err)
	require.True(t, inner.Exists(ctx, "/scoped"))
	require.True(t, a.Exists(ctx, "/"))
}

func TestOperationsAreScoped(t *testing.T) {
	ctx := context.Background()
	inner := newLayer(t)
	a, err := New(ctx, inner, "/scoped", vfscred.Root)
	require.NoError(t, err)

	require.NoError(t, a.Mkdir(ctx, "/sub", 0o755, vfscred.Root))
	require.True(t, inner.Exists(ctx, "/scoped/sub"))
	require.True(t, a.Exists(ctx, "/sub"))

	require.NoError(t, vfsbackend.WriteFile(ctx, a, "/sub/f.txt", []byte("data"), 0o644, vfscred.Root))
	data, err := vfsbackend.ReadFile(ctx, inner, "/scoped/sub/f.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)
}

func TestErrorPathIsRewrittenToScopedView(t *testing.T) {
	ctx := context.Background()
	inner := newLayer(t)
	a, err := New(ctx, inner, "/scoped", vfscred.Root)
	require.NoError(t, err)

	_, statErr := a.Stat(ctx, "/missing.txt")
	require.Error(t, statErr)
	require.NotContains(t, statErr.Error(), "/scoped")
}

// symlinkRecorder is a vfsbackend.FileSystem stub that only records the
// arguments its Symlink call receives, for asserting folderfs's target/link
// join behavior independent of any real backend's symlink support.
type symlinkRecorder struct {
	vfsbackend.FileSystem
	gotTarget, gotLink string
}

func (s *symlinkRecorder) Metadata() vfsbackend.Metadata { return vfsbackend.Metadata{} }

func (s *symlinkRecorder) Exists(context.Context, string) bool { return true }

func (s *symlinkRecorder) Mkdir(context.Context, string, uint16, vfscred.Credentials) error {
	return nil
}

func (s *symlinkRecorder) Symlink(_ context.Context, target, linkPath string, _ vfscred.Credentials) error {
	s.gotTarget, s.gotLink = target, linkPath
	return nil
}

func TestSymlinkJoinsAbsoluteTargetButNotRelative(t *testing.T) {
	ctx := context.Background()
	rec := &symlinkRecorder{}
	a, err := New(ctx, rec, "/scoped", vfscred.Root)
	require.NoError(t, err)

	require.NoError(t, a.Symlink(ctx, "../outside.txt", "/link1", vfscred.Root))
	require.Equal(t, "../outside.txt", rec.gotTarget)
	require.Equal(t, "/scoped/link1", rec.gotLink)

	require.NoError(t, a.Symlink(ctx, "/abs/target.txt", "/link2", vfscred.Root))
	require.Equal(t, "/scoped/abs/target.txt", rec.gotTarget)
	require.Equal(t, "/scoped/link2", rec.gotLink)
}
