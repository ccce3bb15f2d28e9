package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// ClaimStalePendingAttempts implements reconcile.Repository: a
// FOR UPDATE SKIP LOCKED batch claim so multiple reconciler instances
// never double-process the same attempt. Only attempts that already have
// a gateway unique_id and have not exhausted their reconciliation budget
// qualify; attempts never reconciled before sort first.
func (s *Store) ClaimStalePendingAttempts(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxReconcileAttempts, limit int) ([]debtordomain.BillingAttempt, error) {
	var attempts []debtordomain.BillingAttempt
	query := tx.WithContext(ctx).
		Where("status = ?", debtordomain.AttemptPending).
		Where("unique_id <> ''").
		Where("reconciliation_attempts < ?", maxReconcileAttempts).
		Where("created_at <= ?", cutoff).
		Order("created_at ASC").
		Order("CASE WHEN last_reconciled_at IS NULL THEN 0 ELSE 1 END").
		Limit(limit)
	if supportsRowLocking(tx) {
		query = query.Clauses(lockingClause())
	}
	err := query.Find(&attempts).Error
	return attempts, err
}

// IncrementReconciliationAttempt implements reconcile.Repository.
func (s *Store) IncrementReconciliationAttempt(ctx context.Context, tx *gorm.DB, attemptID snowflake.ID, at time.Time) error {
	return tx.WithContext(ctx).Model(&debtordomain.BillingAttempt{}).
		Where("id = ?", attemptID).
		Updates(map[string]interface{}{
			"reconciliation_attempts": gorm.Expr("reconciliation_attempts + 1"),
			"last_reconciled_at":      at,
		}).Error
}
