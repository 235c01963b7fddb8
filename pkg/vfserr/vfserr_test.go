package vfserr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := New(ENOENT, "no such file or directory").WithPath("/a/b")
	require.Equal(t, "Error: ENOENT: no such file or directory, '/a/b'", e.Error())
}

func TestErrnoAndCategory(t *testing.T) {
	require.Equal(t, 2, ENOENT.Errno())
	require.Equal(t, CategoryExistence, GetCategory(ENOENT))
	require.Equal(t, 39, ENOTEMPTY.Errno())
	require.Equal(t, CategoryType, GetCategory(ENOTEMPTY))
}

func TestIs(t *testing.T) {
	e := New(EBUSY, "loop")
	require.True(t, e.Is(New(EBUSY, "different message")))
	require.False(t, e.Is(New(EIO, "different message")))
}

func TestRewritePath(t *testing.T) {
	e := New(ENOENT, "not found: /inner/x").WithPath("/inner/x")
	rewritten := e.RewritePath("/inner", "/mnt")
	require.Equal(t, "/mnt/x", rewritten.Path)
	require.Contains(t, rewritten.Message, "/mnt/x")
}

func TestJSONRoundTrip(t *testing.T) {
	e := New(EACCES, "permission denied").WithPath("/p")
	payload, err := e.JSON()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	require.Equal(t, "EACCES", raw["code"])

	back, err := FromJSON([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, e.Code, back.Code)
	require.Equal(t, e.Path, back.Path)
}

func TestAsAndIsHelpers(t *testing.T) {
	wrapped := New(EIO, "disk fault").WithCause(New(ENOSPC, "inner"))
	e, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, EIO, e.Code)
	require.True(t, Is(wrapped, EIO))
	require.False(t, Is(wrapped, ENOENT))
}
