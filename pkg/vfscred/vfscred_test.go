package vfscred

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootIsRoot(t *testing.T) {
	require.True(t, Root.IsRoot())
}

func TestNewSetsAllSixFields(t *testing.T) {
	c := New(1000, 2000)
	require.Equal(t, Credentials{UID: 1000, GID: 2000, SUID: 1000, SGID: 2000, EUID: 1000, EGID: 2000}, c)
	require.False(t, c.IsRoot())
}
