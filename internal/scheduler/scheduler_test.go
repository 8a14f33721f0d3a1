package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func requireTime(t *testing.T, want, got time.Time) {
	t.Helper()
	require.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func TestNextTickAlignsToUnixMultiples(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, Offset: 5 * time.Minute}, zerolog.Nop())

	now := time.Date(2024, 6, 2, 13, 0, 0, 0, time.UTC)
	requireTime(t, time.Date(2024, 6, 3, 0, 5, 0, 0, time.UTC), s.nextTick(now))

	// Inside the settle window the boundary of the same day is still ahead.
	now = time.Date(2024, 6, 3, 0, 2, 0, 0, time.UTC)
	requireTime(t, time.Date(2024, 6, 3, 0, 5, 0, 0, time.UTC), s.nextTick(now))

	// Exactly on a tick moves to the following one.
	now = time.Date(2024, 6, 3, 0, 5, 0, 0, time.UTC)
	requireTime(t, time.Date(2024, 6, 4, 0, 5, 0, 0, time.UTC), s.nextTick(now))
}

func TestNextTickOddInterval(t *testing.T) {
	s := New(Options{Interval: 7 * time.Second}, zerolog.Nop())
	requireTime(t, time.Unix(14, 0).UTC(), s.nextTick(time.Unix(10, 0)))
	requireTime(t, time.Unix(7, 0).UTC(), s.nextTick(time.Unix(0, 0)))
}

func TestRunOnStartFiresImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			calls.Add(1)
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestNewRejectsZeroInterval(t *testing.T) {
	require.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
