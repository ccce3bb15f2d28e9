package ratelimit

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/sepa-recovery/internal/config"
)

// NewRedisClient builds the shared Redis client used by the token bucket,
// fencing lock, circuit breaker, BAV quota counter, and job-queue
// per-queue dispatch pacing.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
