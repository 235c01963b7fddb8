package fuseshim

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/pkg/vfscred"
	"github.com/objectfs/vfscore/pkg/vfserr"
)

func TestErrnoOfMapsVfsErrCodes(t *testing.T) {
	require.Equal(t, syscall.Errno(0), errnoOf(nil))
	require.Equal(t, syscall.ENOENT, errnoOf(vfserr.New(vfserr.ENOENT, "missing")))
	require.Equal(t, syscall.EBADF, errnoOf(vfserr.New(vfserr.EBADF, "bad fd")))
	require.Equal(t, syscall.EIO, errnoOf(context.DeadlineExceeded))
}

func TestCredFromContextFallsBackToRoot(t *testing.T) {
	cred := credFromContext(context.Background())
	require.Equal(t, vfscred.Root, cred)
}

func TestJoinPathHandlesRoot(t *testing.T) {
	require.Equal(t, "/a", joinPath("/", "a"))
	require.Equal(t, "/dir/a", joinPath("/dir", "a"))
}

func TestCreateFlagForDerivesAccessMode(t *testing.T) {
	wOnly, err := createFlagFor(syscall.O_WRONLY | syscall.O_CREAT)
	require.NoError(t, err)
	require.True(t, wOnly.IsWriteable())
	require.False(t, wOnly.IsReadable())

	rw, err := createFlagFor(syscall.O_RDWR | syscall.O_CREAT)
	require.NoError(t, err)
	require.True(t, rw.IsReadable())
	require.True(t, rw.IsWriteable())
}
