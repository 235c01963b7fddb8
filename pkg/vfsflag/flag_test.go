package vfsflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAllValidStrings(t *testing.T) {
	for _, s := range []string{"r", "r+", "rs", "rs+", "w", "wx", "w+", "wx+", "a", "ax", "a+", "ax+"} {
		f, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, s, f.GetFlagString())
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("q")
	require.Error(t, err)
}

func TestActionTable(t *testing.T) {
	cases := []struct {
		flag         string
		existsAction Action
		notExists    Action
	}{
		{"r", ActionNop, ActionThrow},
		{"r+", ActionNop, ActionThrow},
		{"wx", ActionThrow, ActionCreateFile},
		{"w", ActionTruncateFile, ActionCreateFile},
		{"w+", ActionTruncateFile, ActionCreateFile},
		{"a", ActionNop, ActionCreateFile},
		{"a+", ActionNop, ActionCreateFile},
		{"ax", ActionThrow, ActionCreateFile},
	}
	for _, c := range cases {
		f, err := Parse(c.flag)
		require.NoError(t, err)
		require.Equal(t, c.existsAction, f.PathExistsAction(), c.flag)
		require.Equal(t, c.notExists, f.PathNotExistsAction(), c.flag)
	}
}

func TestDerivedMode(t *testing.T) {
	f, _ := Parse("r")
	require.Equal(t, uint16(0o4), f.DerivedMode())
	f, _ = Parse("w")
	require.Equal(t, uint16(0o2), f.DerivedMode())
	f, _ = Parse("r+")
	require.Equal(t, uint16(0o6), f.DerivedMode())
}
