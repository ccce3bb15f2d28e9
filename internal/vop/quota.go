package vop

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// quotaTTL keeps a daily counter alive comfortably past its own day so a
// late reader near midnight still sees it.
const quotaTTL = 48 * time.Hour

// RedisQuota tracks BAV usage per calendar day as an INCR+EXPIRE
// counter.
type RedisQuota struct {
	client *redis.Client
}

func NewRedisQuota(client *redis.Client) *RedisQuota {
	if client == nil {
		return nil
	}
	return &RedisQuota{client: client}
}

func quotaKey(date string) string {
	return fmt.Sprintf("bav_quota:%s", date)
}

// Used implements QuotaCounter.
func (q *RedisQuota) Used(ctx context.Context, date string) (int, error) {
	if q == nil || q.client == nil {
		return 0, nil
	}
	value, err := q.client.Get(ctx, quotaKey(date)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Add reserves n slots of today's quota.
func (q *RedisQuota) Add(ctx context.Context, date string, n int) error {
	if q == nil || q.client == nil || n <= 0 {
		return nil
	}
	key := quotaKey(date)
	if err := q.client.IncrBy(ctx, key, int64(n)).Err(); err != nil {
		return err
	}
	return q.client.Expire(ctx, key, quotaTTL).Err()
}
