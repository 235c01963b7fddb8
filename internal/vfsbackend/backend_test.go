package vfsbackend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/internal/kvstore"
	"github.com/objectfs/vfscore/internal/kvstore/memkv"
	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/pkg/vfscred"
)

func newFS(t *testing.T) *kvstore.Engine {
	t.Helper()
	e := kvstore.New(memkv.New("test"), true, false)
	require.NoError(t, e.MakeRoot(context.Background()))
	return e
}

func TestReadWriteAppendTruncateFile(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	require.NoError(t, vfsbackend.WriteFile(ctx, fs, "/a.txt", []byte("hello"), 0o644, vfscred.Root))
	data, err := vfsbackend.ReadFile(ctx, fs, "/a.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, vfsbackend.AppendFile(ctx, fs, "/a.txt", []byte(" world"), 0o644, vfscred.Root))
	data, err = vfsbackend.ReadFile(ctx, fs, "/a.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)

	require.NoError(t, vfsbackend.TruncateFile(ctx, fs, "/a.txt", 5, vfscred.Root))
	data, err = vfsbackend.ReadFile(ctx, fs, "/a.txt", vfscred.Root)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestRealpathCollapsesDotSegments(t *testing.T) {
	require.Equal(t, "/", vfsbackend.Realpath(""))
	require.Equal(t, "/a/c", vfsbackend.Realpath("/a/./b/../c"))
	require.Equal(t, "/", vfsbackend.Realpath("/a/.."))
	require.Equal(t, "/a/b", vfsbackend.Realpath("//a//b//"))
}

func TestErrReadOnlyCarriesPath(t *testing.T) {
	err := vfsbackend.ErrReadOnly("/ro.txt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "/ro.txt")
}
