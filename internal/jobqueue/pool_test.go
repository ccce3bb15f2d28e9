package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolDrainsDispatchedTasks(t *testing.T) {
	pool := NewPool(zap.NewNop(), map[string]int{"default": 2, "billing": 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var counter int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Dispatch(ctx, "default", func(context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&counter, 1)
			return nil
		})
	}
	wg.Wait()
	require.EqualValues(t, 10, atomic.LoadInt32(&counter))
}

func TestPoolUnknownQueueFallsBackToDefault(t *testing.T) {
	pool := NewPool(zap.NewNop(), map[string]int{"default": 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan struct{})
	pool.Dispatch(ctx, "no-such-queue", func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task on unknown queue never ran")
	}
}

func TestPoolTaskErrorDoesNotStopWorker(t *testing.T) {
	pool := NewPool(zap.NewNop(), map[string]int{"default": 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan struct{})
	pool.Dispatch(ctx, "default", func(context.Context) error {
		return errors.New("boom")
	})
	pool.Dispatch(ctx, "default", func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after a failing task")
	}
}

func TestDispatchAfterDelays(t *testing.T) {
	pool := NewPool(zap.NewNop(), map[string]int{"default": 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	start := time.Now()
	done := make(chan struct{})
	pool.DispatchAfter(ctx, "default", 50*time.Millisecond, func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
		require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestRunnerTreatsTimeoutAsSoftFailure(t *testing.T) {
	node, err := snowflake.NewNode(70)
	require.NoError(t, err)
	runner := NewRunner(zap.NewNop(), node)

	err = runner.RunJob(context.Background(), "slow", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
}

func TestRunnerWrapsHardErrors(t *testing.T) {
	node, err := snowflake.NewNode(71)
	require.NoError(t, err)
	runner := NewRunner(zap.NewNop(), node)

	err = runner.RunJob(context.Background(), "broken", time.Second, func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}
