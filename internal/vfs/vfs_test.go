package vfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/internal/kvstore"
	"github.com/objectfs/vfscore/internal/kvstore/memkv"
	"github.com/objectfs/vfscore/internal/obslog"
	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/internal/vfshealth"
	"github.com/objectfs/vfscore/internal/vfsmetrics"
	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfserr"
	"github.com/objectfs/vfscore/pkg/vfsflag"
)

func newRoot(t *testing.T) *kvstore.Engine {
	t.Helper()
	e := kvstore.New(memkv.New("root"), true, false)
	require.NoError(t, e.MakeRoot(context.Background()))
	return e
}

func newMount(t *testing.T) *kvstore.Engine {
	t.Helper()
	e := kvstore.New(memkv.New("mnt"), true, false)
	require.NoError(t, e.MakeRoot(context.Background()))
	return e
}

func TestNormalizeRejectsEmptyAndNul(t *testing.T) {
	_, err := Normalize("")
	require.Error(t, err)
	_, err = Normalize("/a\x00b")
	require.Error(t, err)
}

func TestNormalizeCollapsesDotSegments(t *testing.T) {
	norm, err := Normalize("/a/./b/../c")
	require.NoError(t, err)
	require.Equal(t, "/a/c", norm)
}

func TestMkdirAndStatRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))

	require.NoError(t, v.Mkdir(ctx, "/dir", 0o755, vfscred.Root))
	stat, err := v.Stat(ctx, "/dir")
	require.NoError(t, err)
	require.True(t, stat.IsDirectory())
}

func TestOpenWriteReadCloseThroughFdTable(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))

	flag, err := vfsflag.Parse("w+")
	require.NoError(t, err)
	fd, err := v.Open(ctx, "/f.txt", flag, 0o644, vfscred.Root)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, firstFd)

	n, err := v.Write(fd, []byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, v.Close(ctx, fd))

	data, err := vfsbackend.ReadFile(ctx, rootBackend(t, v), "/f.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestCloseUnknownFdReturnsEBADF(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))
	err := v.Close(ctx, 999)
	require.Error(t, err)
	require.True(t, vfserr.Is(err, vfserr.EBADF))
}

func TestReadDirAugmentedWithMountPoints(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))
	require.NoError(t, v.Mkdir(ctx, "/mnt", 0o755, vfscred.Root))
	require.NoError(t, v.Mount("/mnt/sub", newMount(t)))

	names, err := v.ReadDir(ctx, "/mnt")
	require.NoError(t, err)
	require.Contains(t, names, "sub")
}

func TestRenameAcrossMountsEmulatesMove(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))
	require.NoError(t, v.Mkdir(ctx, "/mnt", 0o755, vfscred.Root))
	require.NoError(t, v.Mount("/mnt", newMount(t)))

	require.NoError(t, vfsbackend.WriteFile(ctx, rootBackend(t, v), "/src.txt", []byte("payload"), 0o644, vfscred.Root))
	require.NoError(t, v.Rename(ctx, "/src.txt", "/mnt/dst.txt", vfscred.Root))

	require.False(t, v.Exists(ctx, "/src.txt"))
	require.True(t, v.Exists(ctx, "/mnt/dst.txt"))
	data, err := vfsbackend.ReadFile(ctx, rootBackend(t, v), "/src.txt", vfscred.Root)
	require.Error(t, err)
	require.Nil(t, data)
}

func rootBackend(t *testing.T, v *VFS) vfsbackend.FileSystem {
	t.Helper()
	fs, _, _, err := v.mounts.Resolve("/")
	require.NoError(t, err)
	return fs
}

func TestStatErrorPathIsUserFacing(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))
	require.NoError(t, v.Mkdir(ctx, "/mnt", 0o755, vfscred.Root))
	require.NoError(t, v.Mount("/mnt", newMount(t)))

	_, err := v.Stat(ctx, "/mnt/missing.txt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "/mnt/missing.txt")
}

func TestRealpathReturnsNormalizedPathForNonSymlink(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))
	require.NoError(t, v.Mkdir(ctx, "/a", 0o755, vfscred.Root))

	real, err := v.Realpath(ctx, "/a/../a")
	require.NoError(t, err)
	require.Equal(t, "/a", real)
}

func TestRealpathFollowsSymlink(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t))
	require.NoError(t, v.Mkdir(ctx, "/target", 0o755, vfscred.Root))
	require.NoError(t, v.Symlink(ctx, "/target", "/link", vfscred.Root))

	real, err := v.Realpath(ctx, "/link")
	require.NoError(t, err)
	require.Equal(t, "/target", real)
}

func TestMetricsOptionDispatchesWithCollector(t *testing.T) {
	ctx := context.Background()
	collector, err := vfsmetrics.New(vfsmetrics.DefaultConfig())
	require.NoError(t, err)

	v := New(newRoot(t), WithMetrics(collector))
	require.NoError(t, v.Mkdir(ctx, "/a", 0o755, vfscred.Root))
	_, statErr := v.Stat(ctx, "/missing")
	require.Error(t, statErr)

	// New and this second Mount both go through reportMountCount; the
	// collector's values are not read back here.
	require.NoError(t, v.Mount("/extra", newMount(t)))
}

func TestLoggerOptionIsUsedWithoutPanicking(t *testing.T) {
	ctx := context.Background()
	v := New(newRoot(t), WithLogger(obslog.Default()))
	_, err := v.Stat(ctx, "/missing")
	require.Error(t, err)
}

// healthyProbe is a minimal vfsbackend.FileSystem that also implements
// HealthChecker, for exercising StartHealthPolling/Health() without pulling
// in a real s3kv.Store.
type healthyProbe struct {
	*kvstore.Engine
	fail bool
}

func (p *healthyProbe) HealthCheck(ctx context.Context) error {
	if p.fail {
		return errors.New("probe unhealthy")
	}
	return nil
}

func TestHealthPollingSurfacesMountState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := New(newRoot(t))
	probe := &healthyProbe{Engine: newMount(t)}
	require.NoError(t, v.Mount("/probed", probe))

	v.StartHealthPolling(ctx)

	// StartHealthPolling registers the tracker synchronously; its initial
	// state is healthy even before the first background tick fires.
	states := v.Health()
	state, ok := states["/probed"]
	require.True(t, ok)
	require.Equal(t, vfshealth.StateHealthy, state)
}
