// recoveryd serves the pipeline's HTTP surface (webhook ingress, health,
// metrics) and hosts the job queues that drive upload ingestion,
// validation, VOP scoring, and billing.
package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/sepa-recovery/internal/billing"
	"github.com/smallbiznis/sepa-recovery/internal/clock"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
	"github.com/smallbiznis/sepa-recovery/internal/migration"
	"github.com/smallbiznis/sepa-recovery/internal/observability"
	"github.com/smallbiznis/sepa-recovery/internal/pipeline"
	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
	"github.com/smallbiznis/sepa-recovery/internal/reconcile"
	"github.com/smallbiznis/sepa-recovery/internal/server"
	"github.com/smallbiznis/sepa-recovery/internal/upload"
	"github.com/smallbiznis/sepa-recovery/internal/validation"
	"github.com/smallbiznis/sepa-recovery/internal/vop"
	"github.com/smallbiznis/sepa-recovery/internal/webhook"
	"github.com/smallbiznis/sepa-recovery/pkg/db"
)

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
		pipeline.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
