package ratelimit

import (
	"context"
	"fmt"
)

const keyQueueBucket = "ratelimit:queue:%s"

// QueueLimits maps a named job queue to its token-bucket rate and burst.
type QueueLimits map[string]QueueLimit

type QueueLimit struct {
	Rate  float64
	Burst int
}

// DefaultQueueLimits mirrors the named queues the pipeline dispatches
// chunks on: default, high, vop, bav, billing, reconciliation, webhooks,
// exports, emp-refresh.
func DefaultQueueLimits() QueueLimits {
	return QueueLimits{
		"default":       {Rate: 50, Burst: 100},
		"high":          {Rate: 100, Burst: 200},
		"vop":           {Rate: 20, Burst: 40},
		"bav":           {Rate: 5, Burst: 10},
		"billing":       {Rate: 10, Burst: 20},
		"reconciliation": {Rate: 10, Burst: 20},
		"webhooks":      {Rate: 100, Burst: 200},
		"exports":       {Rate: 5, Burst: 10},
		"emp-refresh":   {Rate: 5, Burst: 10},
	}
}

// QueueLimiter rate-limits dispatch onto a named queue using a shared
// token bucket, one bucket key per queue name.
type QueueLimiter struct {
	bucket *TokenBucket
	limits QueueLimits
}

func NewQueueLimiter(bucket *TokenBucket) *QueueLimiter {
	return &QueueLimiter{bucket: bucket, limits: DefaultQueueLimits()}
}

// Allow consumes one token from the named queue's bucket. An unknown queue
// name uses the "default" limit.
func (l *QueueLimiter) Allow(ctx context.Context, queue string) (Result, error) {
	if l == nil || l.bucket == nil {
		return Result{Allowed: true}, nil
	}
	limit, ok := l.limits[queue]
	if !ok {
		limit = l.limits["default"]
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyQueueBucket, queue), limit.Rate, limit.Burst)
}
