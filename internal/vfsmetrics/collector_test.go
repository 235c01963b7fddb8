package vfsmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/pkg/vfserr"
)

func TestDisabledCollectorIsNoOp(t *testing.T) {
	c, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	c.RecordOperation("stat", time.Millisecond, nil)
	c.SetMountCount(3)
}

func TestRecordOperationIncrementsCounters(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	c.RecordOperation("stat", time.Millisecond, nil)
	c.RecordOperation("open", time.Millisecond, vfserr.New(vfserr.ENOENT, "missing"))

	count := testutil.ToFloat64(c.opCounter.With(prometheus.Labels{"op": "open", "status": "error"}))
	require.Equal(t, float64(1), count)
}

func TestCodeOfExtractsVfsErrCode(t *testing.T) {
	require.Equal(t, "ENOENT", codeOf(vfserr.New(vfserr.ENOENT, "missing")))
	require.Equal(t, "unknown", codeOf(nil))
}
