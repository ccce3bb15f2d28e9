package jobqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	obsmetrics "github.com/smallbiznis/sepa-recovery/internal/observability/metrics"
	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
)

// Task is one unit of queued work: a billing chunk, a VOP batch, a
// reconciliation page.
type Task func(ctx context.Context) error

// Pool drains a fixed set of named queues with a bounded number of
// concurrent workers per queue (default, high, vop, bav, billing,
// reconciliation, webhooks, exports, emp-refresh).
type Pool struct {
	log     *zap.Logger
	queues  map[string]chan Task
	workers map[string]int
	limiter *ratelimit.QueueLimiter
	wg      sync.WaitGroup
}

func NewPool(log *zap.Logger, workers map[string]int, limiter *ratelimit.QueueLimiter) *Pool {
	p := &Pool{
		log:     log.Named("jobqueue.pool"),
		queues:  make(map[string]chan Task, len(workers)),
		workers: workers,
		limiter: limiter,
	}
	for name, n := range workers {
		if n <= 0 {
			n = 1
		}
		p.queues[name] = make(chan Task, n*4)
	}
	return p
}

// Start launches the configured worker goroutines per queue. It returns
// once all workers have been spawned; it does not block.
func (p *Pool) Start(ctx context.Context) {
	for name, queue := range p.queues {
		n := p.workers[name]
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			p.wg.Add(1)
			go p.worker(ctx, name, queue)
		}
	}
}

func (p *Pool) worker(ctx context.Context, name string, queue chan Task) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-queue:
			if !ok {
				return
			}
			p.waitForSlot(ctx, name)
			obsmetrics.Pipeline().SetQueueDepth(name, len(queue))
			if err := task(ctx); err != nil {
				p.log.Warn("task failed", zap.String("queue", name), zap.Error(err))
				obsmetrics.Pipeline().ObserveChunk(name, "error")
			} else {
				obsmetrics.Pipeline().ObserveChunk(name, "ok")
			}
		}
	}
}

// Dispatch enqueues task onto the named queue, blocking if the queue is
// full. An unknown queue name falls back to "default".
func (p *Pool) Dispatch(ctx context.Context, queueName string, task Task) {
	queue, ok := p.queues[queueName]
	if !ok {
		queue = p.queues["default"]
	}
	select {
	case <-ctx.Done():
	case queue <- task:
	}
}

// waitForSlot blocks until the queue's token bucket grants a slot, or
// immediately when no limiter is configured.
func (p *Pool) waitForSlot(ctx context.Context, queue string) {
	if p.limiter == nil {
		return
	}
	for {
		result, err := p.limiter.Allow(ctx, queue)
		if err != nil || result.Allowed {
			return
		}
		delay := result.RetryAfter
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// DispatchAfter enqueues task onto the named queue once delay has
// elapsed, the release-to-queue path a chunk takes when it finds the
// circuit open.
func (p *Pool) DispatchAfter(ctx context.Context, queueName string, delay time.Duration, task Task) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			p.Dispatch(ctx, queueName, task)
		}
	}()
}

// Stop closes every queue and waits for in-flight workers to drain.
func (p *Pool) Stop() {
	for _, queue := range p.queues {
		close(queue)
	}
	p.wg.Wait()
}
