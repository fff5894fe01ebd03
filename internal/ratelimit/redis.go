package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLimiter implements the fixed window against Redis so the window
// state is shared across gateway replicas. Counter keys expire two
// windows after creation; Redis handles the pruning the memory limiter
// does by hand.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

type RedisConfig struct {
	Prefix string
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client: client,
		prefix: cfg.Prefix,
		logger: logger,
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(k string) string {
	if l.prefix == "" {
		return "ratelimit:" + k
	}
	return l.prefix + ":ratelimit:" + k
}

// Allow increments the account's window counter and rejects when the
// post-increment count exceeds the limit. Redis errors fail open: the
// request is admitted and the error is logged, trading strictness for
// availability when the shared store is down.
func (l *RedisLimiter) Allow(ctx context.Context, accountID string, limitPerMin int) (Decision, error) {
	idx, remainingInWindow := window(l.now())
	key := l.key(windowKey(accountID, idx))

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter store unavailable, admitting request",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return Decision{Allowed: true, Remaining: limitPerMin}, fmt.Errorf("redis incr failed: %w", err)
	}

	return countDecision(int(incr.Val()), limitPerMin, remainingInWindow), nil
}

// countDecision turns a post-increment window count into a Decision. The
// count includes the current request, so used == limit still admits.
func countDecision(used, limitPerMin int, remainingInWindow time.Duration) Decision {
	if used > limitPerMin {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: remainingInWindow,
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: limitPerMin - used,
	}
}

// Ping checks the Redis connection.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
