// Package billing implements the per-upload billing orchestrator and the
// rate-limited chunk worker.
package billing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
)

// chunkSize is the eligible-debtor batch size dispatched per job.
const chunkSize = 50

// dispatchLockTTL bounds how long the unique-per-upload dispatch lock is
// held, matching the per-upload billing timeout.
const dispatchLockTTL = 600 * time.Second

// circuitRequeueDelay is how long a chunk waits before re-entering the
// queue after finding the circuit open.
const circuitRequeueDelay = 60 * time.Second

// Repository is the persistence seam the orchestrator needs.
type Repository interface {
	FindEligibleDebtorIDs(ctx context.Context, uploadID snowflake.ID, targetModel debtordomain.BillingModel) ([]snowflake.ID, error)
	SetUploadPhase(ctx context.Context, uploadID snowflake.ID, phase string, status debtordomain.PhaseStatus, batchID string) error
}

// Locker is the unique-per-upload dispatch lock seam, satisfied by
// ratelimit.Locker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Orchestrator fans eligible debtors for one upload out into chunked
// billing jobs.
type Orchestrator struct {
	repo   Repository
	locker Locker
	pool   *jobqueue.Pool
	worker *Worker
	genID  *snowflake.Node
	log    *zap.Logger
}

func NewOrchestrator(repo Repository, locker Locker, pool *jobqueue.Pool, worker *Worker, genID *snowflake.Node, log *zap.Logger) *Orchestrator {
	return &Orchestrator{repo: repo, locker: locker, pool: pool, worker: worker, genID: genID, log: log.Named("billing.orchestrator")}
}

// Dispatch selects eligible debtors for uploadID+targetModel, chunks
// them into groups of 50, and dispatches parallel chunk jobs tagged with
// a batch id. A unique-per-upload lock prevents re-entrant dispatch; the
// second caller is short-circuited, not queued.
func (o *Orchestrator) Dispatch(ctx context.Context, uploadID snowflake.ID, targetModel debtordomain.BillingModel) error {
	lockKey := fmt.Sprintf("billing:dispatch:%s", uploadID.String())
	token, acquired, err := o.locker.TryLock(ctx, lockKey, dispatchLockTTL)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "acquire billing dispatch lock", err)
	}
	if !acquired {
		o.log.Info("billing dispatch already in flight", zap.String("upload_id", uploadID.String()))
		return nil
	}

	debtorIDs, err := o.repo.FindEligibleDebtorIDs(ctx, uploadID, targetModel)
	if err != nil {
		_ = o.locker.Release(ctx, lockKey, token)
		return err
	}

	batchID := o.genID.Generate().String()
	if err := o.repo.SetUploadPhase(ctx, uploadID, "billing", debtordomain.PhaseStarted, batchID); err != nil {
		_ = o.locker.Release(ctx, lockKey, token)
		return err
	}

	chunks := chunkIDs(debtorIDs, chunkSize)
	if len(chunks) == 0 {
		_ = o.locker.Release(ctx, lockKey, token)
		return o.repo.SetUploadPhase(ctx, uploadID, "billing", debtordomain.PhaseCompleted, batchID)
	}

	remaining := int32(len(chunks))
	for _, chunk := range chunks {
		o.enqueueChunk(ctx, uploadID, targetModel, batchID, lockKey, token, chunk, &remaining)
	}
	o.log.Info("billing batch dispatched",
		zap.String("upload_id", uploadID.String()),
		zap.String("batch_id", batchID),
		zap.Int("debtors", len(debtorIDs)),
		zap.Int("chunks", len(chunks)))
	return nil
}

// enqueueChunk dispatches one chunk. A chunk that finds the circuit open
// releases itself back onto the queue after a delay instead of counting
// as finished; only a processed (or hard-failed) chunk decrements the
// batch counter, and the last one out completes the phase and releases
// the dispatch lock.
func (o *Orchestrator) enqueueChunk(ctx context.Context, uploadID snowflake.ID, targetModel debtordomain.BillingModel, batchID, lockKey, token string, chunk []snowflake.ID, remaining *int32) {
	var task jobqueue.Task
	task = func(taskCtx context.Context) error {
		err := o.worker.ProcessChunk(taskCtx, uploadID, targetModel, batchID, chunk)
		if apperrors.Is(err, apperrors.KindUnavailable) {
			o.log.Info("circuit open, releasing chunk back to queue",
				zap.String("batch_id", batchID),
				zap.Duration("delay", circuitRequeueDelay))
			o.pool.DispatchAfter(taskCtx, "billing", circuitRequeueDelay, task)
			return nil
		}
		o.finishChunk(taskCtx, uploadID, batchID, lockKey, token, remaining)
		return err
	}
	o.pool.Dispatch(ctx, "billing", task)
}

func (o *Orchestrator) finishChunk(ctx context.Context, uploadID snowflake.ID, batchID, lockKey, token string, remaining *int32) {
	if n := atomic.AddInt32(remaining, -1); n == 0 {
		if err := o.repo.SetUploadPhase(ctx, uploadID, "billing", debtordomain.PhaseCompleted, batchID); err != nil {
			o.log.Warn("failed to mark billing phase completed", zap.Error(err))
		}
		_ = o.locker.Release(ctx, lockKey, token)
	}
}

func chunkIDs(ids []snowflake.ID, size int) [][]snowflake.ID {
	if size <= 0 {
		size = chunkSize
	}
	chunks := make([][]snowflake.ID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
