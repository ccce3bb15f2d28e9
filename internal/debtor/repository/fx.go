package repository

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/sepa-recovery/internal/billing"
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
	"github.com/smallbiznis/sepa-recovery/internal/reconcile"
	"github.com/smallbiznis/sepa-recovery/internal/statemachine"
	"github.com/smallbiznis/sepa-recovery/internal/upload"
	"github.com/smallbiznis/sepa-recovery/internal/validation"
	"github.com/smallbiznis/sepa-recovery/internal/vop"
	"github.com/smallbiznis/sepa-recovery/internal/webhook"
)

// bindInterfaces exposes the one concrete Store under every narrow
// repository interface the pipeline packages declare.
func bindInterfaces(s *Store) (
	dedup.Repository,
	upload.Repository,
	validation.Repository,
	validation.BlacklistChecker,
	vop.Repository,
	vop.CacheStore,
	billing.Repository,
	billing.WorkerRepository,
	statemachine.Repository,
	reconcile.Repository,
	reconcile.DB,
	webhook.TxRunner,
) {
	return s, s, s, s, s, s, s, s, s, s, s, s
}

// Module wires the GORM-backed Store.
var Module = fx.Module("debtor.repository",
	fx.Provide(New, bindInterfaces),
)
