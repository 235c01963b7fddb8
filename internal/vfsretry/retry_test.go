package vfsretry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/vfscore/pkg/vfserr"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesStorageErrorsUntilSuccess(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return vfserr.New(vfserr.EIO, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermissionErrors(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return vfserr.New(vfserr.EPERM, "denied")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return vfserr.New(vfserr.EIO, "still failing")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(DefaultConfig())
	err := r.Do(ctx, func(context.Context) error {
		t.Fatal("fn should not be called on an already-canceled context")
		return nil
	})
	require.Error(t, err)
}
