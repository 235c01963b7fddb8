package vfscircuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("test", Config{})
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New("test", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	})
	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return failing })
		require.Equal(t, failing, err)
	}
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpensAfterTimeoutAndCloses(t *testing.T) {
	b := New("test", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     10 * time.Millisecond,
	})
	failing := errors.New("boom")
	require.Equal(t, failing, b.Execute(context.Background(), func(context.Context) error { return failing }))
	require.Equal(t, StateOpen, b.State())

	require.Eventually(t, func() bool { return b.State() == StateHalfOpen }, time.Second, time.Millisecond)

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, StateClosed, b.State())
}

func TestStateStringer(t *testing.T) {
	require.Equal(t, "CLOSED", StateClosed.String())
	require.Equal(t, "OPEN", StateOpen.String())
	require.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
