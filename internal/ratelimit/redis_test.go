package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisLimiter_FailsOpenWhenStoreUnreachable(t *testing.T) {
	// Port 1 refuses immediately; retries disabled so the test stays fast.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLimiter(client, RedisConfig{}, zap.NewNop())
	l.now = func() time.Time { return time.Unix(1_700_000_040, 0) }

	d, err := l.Allow(context.Background(), "acct", 5)
	require.Error(t, err)
	require.True(t, d.Allowed, "store failure must admit the request")
	require.Equal(t, 5, d.Remaining)
}

func TestRedisLimiter_CountDecision(t *testing.T) {
	// 20 seconds into a window, same clock math as the memory limiter.
	now := time.Unix(1_700_000_000, 0).Truncate(time.Minute).Add(20 * time.Second)
	_, remaining := window(now)
	require.Equal(t, 40*time.Second, remaining)

	d := countDecision(1, 3, remaining)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)

	// The count includes the current request: hitting the limit exactly
	// still admits.
	d = countDecision(3, 3, remaining)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	d = countDecision(4, 3, remaining)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 40*time.Second, d.RetryAfter)
}

func TestRedisLimiter_KeyPrefix(t *testing.T) {
	l := NewRedisLimiter(nil, RedisConfig{}, nil)
	require.Equal(t, "ratelimit:acct:123", l.key("acct:123"))

	l = NewRedisLimiter(nil, RedisConfig{Prefix: "gw"}, nil)
	require.Equal(t, "gw:ratelimit:acct:123", l.key("acct:123"))
}
