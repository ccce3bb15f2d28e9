package jobqueue

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
)

// DefaultQueueWorkers sizes the worker pool per named queue.
func DefaultQueueWorkers() map[string]int {
	return map[string]int{
		"default":        4,
		"high":           4,
		"vop":            2,
		"bav":            1,
		"billing":        4,
		"reconciliation": 2,
		"webhooks":       4,
		"exports":        1,
		"emp-refresh":    1,
	}
}

func newPool(lc fx.Lifecycle, log *zap.Logger, limiter *ratelimit.QueueLimiter) *Pool {
	pool := NewPool(log, DefaultQueueWorkers(), limiter)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			pool.Stop()
			return nil
		},
	})
	return pool
}

// Module wires the named-queue worker pool and the job runner.
var Module = fx.Module("jobqueue",
	fx.Provide(
		NewRunner,
		newPool,
	),
)
