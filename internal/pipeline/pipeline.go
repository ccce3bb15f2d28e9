// Package pipeline chains the per-upload phases: once an upload's rows
// are ingested it runs validation, VOP scoring, and billing dispatch in
// order on the job queues. Each phase also remains independently
// runnable for operator-driven re-runs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/billing"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
	obscontext "github.com/smallbiznis/sepa-recovery/internal/observability/context"
	obsmetrics "github.com/smallbiznis/sepa-recovery/internal/observability/metrics"
	"github.com/smallbiznis/sepa-recovery/internal/validation"
	"github.com/smallbiznis/sepa-recovery/internal/vop"
)

// phaseTimeout bounds one full phase run per upload.
const phaseTimeout = 600 * time.Second

// Coordinator drives an upload through its post-ingest phases.
type Coordinator struct {
	validation *validation.Runner
	vop        *vop.Runner
	billing    *billing.Orchestrator
	pool       *jobqueue.Pool
	runner     *jobqueue.Runner
	log        *zap.Logger
}

func NewCoordinator(validationRunner *validation.Runner, vopRunner *vop.Runner, orchestrator *billing.Orchestrator, pool *jobqueue.Pool, runner *jobqueue.Runner, log *zap.Logger) *Coordinator {
	return &Coordinator{
		validation: validationRunner,
		vop:        vopRunner,
		billing:    orchestrator,
		pool:       pool,
		runner:     runner,
		log:        log.Named("pipeline"),
	}
}

// UploadIngested queues the full phase chain for a freshly ingested
// upload. It returns immediately; the phases run on the "high" queue.
func (c *Coordinator) UploadIngested(ctx context.Context, upload *debtordomain.Upload) {
	uploadID := upload.ID
	model := upload.BillingModel
	c.pool.Dispatch(ctx, "high", func(taskCtx context.Context) error {
		return c.RunPhases(taskCtx, uploadID, model)
	})
}

// RunPhases executes validation, VOP, and billing dispatch for one
// upload, stopping at the first phase that fails.
func (c *Coordinator) RunPhases(ctx context.Context, uploadID snowflake.ID, model debtordomain.BillingModel) error {
	ctx = obscontext.WithUploadID(ctx, uploadID.String())
	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"validation", func(phaseCtx context.Context) error { return c.validation.Run(phaseCtx, uploadID) }},
		{"vop", func(phaseCtx context.Context) error { return c.vop.Run(phaseCtx, uploadID) }},
		{"billing", func(phaseCtx context.Context) error { return c.billing.Dispatch(phaseCtx, uploadID, model) }},
	}

	for _, phase := range phases {
		start := time.Now()
		jobName := fmt.Sprintf("%s_%s", phase.name, uploadID.String())
		if err := c.runner.RunJob(ctx, jobName, phaseTimeout, phase.run); err != nil {
			obsmetrics.Pipeline().ObserveJobRun(phase.name, "error", time.Since(start))
			c.log.Warn("phase failed, stopping chain",
				zap.String("upload_id", uploadID.String()),
				zap.String("phase", phase.name),
				zap.Error(err))
			return err
		}
		obsmetrics.Pipeline().ObserveJobRun(phase.name, "ok", time.Since(start))
	}
	return nil
}
