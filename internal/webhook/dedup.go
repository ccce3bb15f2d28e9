package webhook

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// dedupWindow is how long a (processing_type, unique_id) pair is
// remembered after its first delivery.
const dedupWindow = time.Hour

// RedisDeduper implements Deduper with a SET NX key per delivery. The
// window alone does not guarantee exactly-once — the state machine's
// own idempotency does — it just keeps replay storms off the database.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	if client == nil {
		return nil
	}
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Seen(ctx context.Context, processingType, uniqueID string) (bool, error) {
	if d == nil || d.client == nil {
		return false, nil
	}
	key := fmt.Sprintf("webhook_dedup:%s:%s", processingType, uniqueID)
	created, err := d.client.SetNX(ctx, key, "1", dedupWindow).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}
