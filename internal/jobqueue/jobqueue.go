// Package jobqueue runs named, independently-schedulable jobs and a
// bounded worker pool that drains chunk-dispatch queues, with
// single-owner-per-run-id tracking and timeout-as-soft-failure
// behavior.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	obscontext "github.com/smallbiznis/sepa-recovery/internal/observability/context"
)

type runKey struct{}

type run struct {
	name           string
	runID          string
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *run) AddProcessed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.processedCount += n
}

func (r *run) IncError() {
	if r != nil {
		r.errorCount++
	}
}

// Runner wraps named job functions with run-id tracking, structured
// logging, and timeout-as-soft-failure handling.
type Runner struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func NewRunner(log *zap.Logger, genID *snowflake.Node) *Runner {
	return &Runner{log: log.Named("jobqueue"), genID: genID}
}

func (r *Runner) ensureRun(ctx context.Context, name string) (context.Context, *run, bool) {
	if existing, ok := ctx.Value(runKey{}).(*run); ok {
		return ctx, existing, false
	}
	rn := &run{name: name, runID: r.genID.Generate().String(), startedAt: time.Now()}
	ctx = obscontext.WithJobID(ctx, rn.runID)
	return context.WithValue(ctx, runKey{}, rn), rn, true
}

// RunJob executes fn under a deadline, treating context deadline/
// cancellation as a soft failure (logged, not returned) so a scheduler
// loop keeps going after one slow run instead of propagating an error
// that looks like a hard failure.
func (r *Runner) RunJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, rn, owner := r.ensureRun(ctx, name)
	if owner {
		r.log.Info("job.start", zap.String("job", name), zap.String("run_id", rn.runID))
	}

	err := fn(ctx)

	if owner {
		fields := []zap.Field{
			zap.String("job", name),
			zap.String("run_id", rn.runID),
			zap.Int64("duration_ms", time.Since(rn.startedAt).Milliseconds()),
			zap.Int("processed", rn.processedCount),
			zap.Int("errors", rn.errorCount),
		}
		if err != nil {
			rn.IncError()
			r.log.Warn("job.finish", append(fields, zap.Error(err))...)
		} else {
			r.log.Info("job.finish", fields...)
		}
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		r.log.Warn("job timed out", zap.String("job", name), zap.Duration("timeout", timeout))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// AddProcessed records progress against the active run, if any.
func AddProcessed(ctx context.Context, n int) {
	if rn, ok := ctx.Value(runKey{}).(*run); ok {
		rn.AddProcessed(n)
	}
}
