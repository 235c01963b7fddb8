package vfsfile

import (
	"context"
	"testing"

	"github.com/objectfs/vfscore/pkg/vfsflag"
	"github.com/objectfs/vfscore/pkg/vfsinode"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	flag, _ := vfsflag.Parse("w+")
	stat := vfsinode.NewStats(vfsinode.TypeFile, 0o644, 0, 0, 0)
	f := New("/a.txt", flag, stat, nil, nil)

	n, err := f.Write([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, int64(5), f.Stat().Size)

	dest := make([]byte, 5)
	f.pos = 0
	n, err = f.Read(dest)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(dest))
}

func TestWriteRejectsReadOnly(t *testing.T) {
	flag, _ := vfsflag.Parse("r")
	stat := vfsinode.NewStats(vfsinode.TypeFile, 0o644, 0, 0, 0)
	f := New("/a.txt", flag, stat, nil, nil)
	_, err := f.Write([]byte("x"), 0)
	require.Error(t, err)
}

func TestAppendIgnoresPos(t *testing.T) {
	flag, _ := vfsflag.Parse("a+")
	stat := vfsinode.NewStats(vfsinode.TypeFile, 0o644, 0, 0, 0)
	stat.Size = 3
	f := New("/a.txt", flag, stat, []byte("abc"), nil)

	n, err := f.Write([]byte("def"), 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abcdef", string(f.Bytes()))
}

func TestTruncateGrowsWithZeros(t *testing.T) {
	flag, _ := vfsflag.Parse("w+")
	stat := vfsinode.NewStats(vfsinode.TypeFile, 0o644, 0, 0, 0)
	stat.Size = 2
	f := New("/a.txt", flag, stat, []byte("ab"), nil)

	err := f.Truncate(4)
	require.NoError(t, err)
	require.Equal(t, []byte{'a', 'b', 0, 0}, f.Bytes())

	err = f.Truncate(1)
	require.NoError(t, err)
	require.Equal(t, []byte{'a'}, f.Bytes())
}

func TestSyncInvokesPersist(t *testing.T) {
	flag, _ := vfsflag.Parse("w+")
	stat := vfsinode.NewStats(vfsinode.TypeFile, 0o644, 0, 0, 0)
	var gotPath string
	var gotData []byte
	f := New("/a.txt", flag, stat, nil, func(_ context.Context, path string, data []byte, _ vfsinode.Stats) error {
		gotPath, gotData = path, data
		return nil
	})

	_, err := f.Write([]byte("xyz"), 0)
	require.NoError(t, err)
	require.True(t, f.Dirty())

	require.NoError(t, f.Sync(context.Background()))
	require.Equal(t, "/a.txt", gotPath)
	require.Equal(t, "xyz", string(gotData))
	require.False(t, f.Dirty())
}

func TestSynchronousFlagPersistsOnWrite(t *testing.T) {
	flag, _ := vfsflag.Parse("rs+")
	stat := vfsinode.NewStats(vfsinode.TypeFile, 0o644, 0, 0, 0)
	calls := 0
	f := New("/a.txt", flag, stat, nil, func(context.Context, string, []byte, vfsinode.Stats) error {
		calls++
		return nil
	})
	_, err := f.Write([]byte("z"), 0)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
