// scheduler runs the periodic jobs: the stale-attempt reconciliation
// sweep against the gateway.
package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/clock"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
	"github.com/smallbiznis/sepa-recovery/internal/migration"
	"github.com/smallbiznis/sepa-recovery/internal/observability"
	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
	"github.com/smallbiznis/sepa-recovery/internal/reconcile"
	"github.com/smallbiznis/sepa-recovery/pkg/db"

	// The repository module binds the Store to every pipeline interface,
	// so the scheduler graph carries the same domain modules as the
	// other binaries.
	"github.com/smallbiznis/sepa-recovery/internal/billing"
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
	"github.com/smallbiznis/sepa-recovery/internal/upload"
	"github.com/smallbiznis/sepa-recovery/internal/validation"
	"github.com/smallbiznis/sepa-recovery/internal/vop"
	"github.com/smallbiznis/sepa-recovery/internal/webhook"
)

// sweepTimeout bounds one reconciliation chunk pass.
const sweepTimeout = 120 * time.Second

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		jobqueue.Module,
		repository.Module,

		dedup.Module,
		upload.Module,
		validation.Module,
		vop.Module,
		gateway.Module,
		billing.Module,
		reconcile.Module,
		webhook.Module,

		fx.Invoke(runSweepLoop),
	)
	app.Run()
}

func runSweepLoop(lc fx.Lifecycle, runner *jobqueue.Runner, reconciler *reconcile.Reconciler, cfg config.Config, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	interval := time.Duration(cfg.ReconcileIntervalSec) * time.Second
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := runner.RunJob(ctx, "reconciliation_sweep", sweepTimeout, reconciler.Sweep); err != nil {
						log.Warn("reconciliation sweep failed", zap.Error(err))
					}
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
