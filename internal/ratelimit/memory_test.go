package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l := NewMemoryLimiter()
	defer l.Close()

	now := time.Unix(1_700_000_040, 0)
	l.now = func() time.Time { return now }

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "acct-1", 3)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		require.Equal(t, 2-i, d.Remaining)
	}

	// 4th request in the same window is rejected and does not consume.
	d, err := l.Allow(ctx, "acct-1", 3)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)

	// A different account is unaffected.
	d, err = l.Allow(ctx, "acct-2", 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Next window admits again.
	now = now.Add(time.Minute)
	d, err = l.Allow(ctx, "acct-1", 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryLimiter_RetryAfterMatchesWindowRemainder(t *testing.T) {
	l := NewMemoryLimiter()
	defer l.Close()

	// 20 seconds into a window.
	now := time.Unix(1_700_000_000, 0)
	now = now.Truncate(time.Minute).Add(20 * time.Second)
	l.now = func() time.Time { return now }

	ctx := context.Background()

	_, err := l.Allow(ctx, "acct", 1)
	require.NoError(t, err)

	d, err := l.Allow(ctx, "acct", 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 40*time.Second, d.RetryAfter)
}

func TestMemoryLimiter_PruneDropsOldWindows(t *testing.T) {
	l := NewMemoryLimiter()
	defer l.Close()

	now := time.Unix(1_700_000_040, 0)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := l.Allow(ctx, "acct", 10)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	now = now.Add(10 * time.Minute)
	l.prune()
	require.Equal(t, 0, l.Len())
}
