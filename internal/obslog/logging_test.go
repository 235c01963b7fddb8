package obslog

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevelCaseInsensitive(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, WARN, lvl)

	lvl, err = ParseLevel("WARNING")
	require.NoError(t, err)
	require.Equal(t, WARN, lvl)

	_, err = ParseLevel("bogus")
	require.Error(t, err)
}

func TestLoggerFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf)

	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("warning: %d", 42)
	l.Error("boom")

	out := buf.String()
	require.False(t, strings.Contains(out, "should not appear"))
	require.Contains(t, out, "[WARN] warning: 42")
	require.Contains(t, out, "[ERROR] boom")
}

func TestDefaultWritesToStderr(t *testing.T) {
	l := Default()
	require.Equal(t, INFO, l.level)
	require.Equal(t, os.Stderr, l.output)
}
