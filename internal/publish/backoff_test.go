package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	b := NewLinearBackoff(3 * time.Second)
	require.Equal(t, time.Duration(0), b.Delay(0))
	require.Equal(t, 3*time.Second, b.Delay(1))
	require.Equal(t, 6*time.Second, b.Delay(2))
}

func TestExponentialBackoffBounds(t *testing.T) {
	t.Parallel()

	b := ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: true}
	for attempt := 1; attempt <= 8; attempt++ {
		d := b.Delay(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	fixed := ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second}
	require.Equal(t, 400*time.Millisecond, fixed.Delay(3))
	require.Equal(t, time.Second, fixed.Delay(10))
}

type instantClock struct{}

func (instantClock) Now() time.Time { return time.Unix(0, 0) }

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

type neverClock struct{ instantClock }

func (neverClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestSleep(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), instantClock{}, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, neverClock{}, time.Hour)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}
