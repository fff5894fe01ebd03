package ratelimit

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Backend string // "memory" or "redis"
	Prefix  string
}

// New builds a limiter for the configured backend. The redis client may be
// nil unless Backend is "redis".
func New(cfg Config, redisClient *redis.Client, logger *zap.Logger) Limiter {
	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(redisClient, RedisConfig{Prefix: cfg.Prefix}, logger)
	default:
		return NewMemoryLimiter()
	}
}
