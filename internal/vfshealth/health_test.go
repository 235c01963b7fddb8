package vfshealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerStartsHealthy(t *testing.T) {
	tr := New("mount", Config{}, nil)
	require.Equal(t, StateHealthy, tr.State())
}

func TestTrackerDegradesThenBecomesUnavailable(t *testing.T) {
	cfg := Config{ErrorThreshold: 2, UnavailableThreshold: 4, RecoveryThreshold: 1}
	var transitions []State
	tr := New("mount", cfg, func(_ string, _, to State) { transitions = append(transitions, to) })

	tr.RecordFailure()
	require.Equal(t, StateHealthy, tr.State())
	tr.RecordFailure()
	require.Equal(t, StateDegraded, tr.State())
	tr.RecordFailure()
	tr.RecordFailure()
	require.Equal(t, StateUnavailable, tr.State())

	require.Equal(t, []State{StateDegraded, StateUnavailable}, transitions)
}

func TestTrackerRecoversAfterSuccesses(t *testing.T) {
	cfg := Config{ErrorThreshold: 1, UnavailableThreshold: 5, RecoveryThreshold: 2}
	tr := New("mount", cfg, nil)
	tr.RecordFailure()
	require.Equal(t, StateDegraded, tr.State())

	tr.RecordSuccess()
	require.Equal(t, StateDegraded, tr.State())
	tr.RecordSuccess()
	require.Equal(t, StateHealthy, tr.State())
}

func TestStartPollingFeedsProbeResults(t *testing.T) {
	cfg := Config{ErrorThreshold: 1, UnavailableThreshold: 5, RecoveryThreshold: 1, CheckInterval: 5 * time.Millisecond}
	tr := New("mount", cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartPolling(ctx, func(context.Context) error { return errors.New("down") })

	require.Eventually(t, func() bool { return tr.State() == StateDegraded }, time.Second, time.Millisecond)
	tr.Stop()
}
