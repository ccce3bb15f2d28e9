// Package reconcile implements the stale-attempt sweep: it claims
// pending billing attempts that have outlived the gateway's expected
// settlement window, polls the gateway for their current status, and
// applies whatever it learns through the same state machine the webhook
// handler uses, so side effects are identical regardless of which path
// discovered the outcome first.
package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/circuitbreaker"
	"github.com/smallbiznis/sepa-recovery/internal/clock"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	obsmetrics "github.com/smallbiznis/sepa-recovery/internal/observability/metrics"
	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
	"github.com/smallbiznis/sepa-recovery/internal/statemachine"
)

// chunkSize bounds one sweep transaction's claimed row count.
const chunkSize = 50

// gatewayRate is the reconcile endpoint's request budget per second.
const (
	gatewayRate  = 20
	gatewayBurst = 40
)

const circuitName = "reconciliation_circuit_open"

// rateLimitedBackoff is how long a sweep sleeps when the token bucket is
// drained before asking again.
const rateLimitedBackoff = 100 * time.Millisecond

// Repository is the persistence seam the reconciler needs, on top of the
// shared statemachine.Repository.
type Repository interface {
	statemachine.Repository
	ClaimStalePendingAttempts(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxReconcileAttempts, limit int) ([]debtordomain.BillingAttempt, error)
	IncrementReconciliationAttempt(ctx context.Context, tx *gorm.DB, attemptID snowflake.ID, at time.Time) error
}

// DB is the transaction-scoping seam.
type DB interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Reconciler sweeps stale pending attempts against the gateway's
// reconcile endpoint.
type Reconciler struct {
	db      DB
	repo    Repository
	gw      gateway.Client
	breaker *circuitbreaker.Breaker
	bucket  *ratelimit.TokenBucket
	cfg     config.Config
	billing *config.BillingModelConfigHolder
	genID   *snowflake.Node
	metrics *obsmetrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func New(db DB, repo Repository, gw gateway.Client, breaker *circuitbreaker.Breaker, bucket *ratelimit.TokenBucket, cfg config.Config, billing *config.BillingModelConfigHolder, genID *snowflake.Node, clk clock.Clock, metrics *obsmetrics.Metrics, log *zap.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		repo:    repo,
		gw:      gw,
		breaker: breaker,
		bucket:  bucket,
		cfg:     cfg,
		billing: billing,
		genID:   genID,
		metrics: metrics,
		log:     log.Named("reconcile"),
		now:     clk.Now,
	}
}

// Sweep claims and reconciles stale pending attempts in chunks until the
// claim query returns no more rows or the circuit opens.
func (r *Reconciler) Sweep(ctx context.Context) error {
	minAge := time.Duration(r.cfg.ReconciliationMinAgeHours) * time.Hour
	cutoff := r.now().Add(-minAge)

	// Attempts the gateway still reports as pending stay claimable, so
	// each sweep touches any given attempt at most once.
	seen := make(map[snowflake.ID]bool)

	for {
		if allowed := r.circuitClosed(ctx); !allowed {
			r.log.Info("reconciliation circuit open, ending sweep early")
			return nil
		}

		var claimed []debtordomain.BillingAttempt
		err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
			var claimErr error
			claimed, claimErr = r.repo.ClaimStalePendingAttempts(ctx, tx, cutoff, r.cfg.ReconciliationMaxAttempts, chunkSize)
			return claimErr
		})
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		progressed := false
		for _, attempt := range claimed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if seen[attempt.ID] {
				continue
			}
			seen[attempt.ID] = true
			progressed = true
			if err := r.reconcileOne(ctx, attempt); err != nil {
				r.log.Warn("reconcile attempt failed",
					zap.String("unique_id", attempt.UniqueID), zap.Error(err))
			}
		}
		if !progressed {
			return nil
		}
	}
}

func (r *Reconciler) circuitClosed(ctx context.Context) bool {
	allowed, err := r.breaker.Allow(ctx, circuitName)
	if err != nil {
		r.log.Warn("reconcile circuit breaker check failed", zap.Error(err))
		return true
	}
	return allowed
}

func (r *Reconciler) reconcileOne(ctx context.Context, attempt debtordomain.BillingAttempt) error {
	if !r.circuitClosed(ctx) {
		return nil
	}
	r.waitForToken(ctx)

	result, err := r.gw.Reconcile(ctx, attempt.UniqueID)
	if err != nil {
		_ = r.breaker.RecordFailure(ctx, circuitName)
		return err
	}
	_ = r.breaker.Reset(ctx, circuitName)
	r.metrics.RecordReconcilePoll(ctx, string(result.Status))

	detail := gateway.ChargebackDetail{}
	if result.Status == gateway.StatusChargebacked {
		detail, _ = r.gw.ChargebackDetail(ctx, attempt.UniqueID)
	}

	now := r.now()
	cfg := r.billing.Get()
	return r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if result.Status == gateway.StatusChargebacked {
			if _, err := statemachine.ApplyChargeback(ctx, r.repo, tx, r.genID, cfg, attempt.UniqueID, detail, debtordomain.ChargebackSourceAPISync, now); err != nil {
				return err
			}
		} else {
			if _, err := statemachine.ApplyStatus(ctx, r.repo, tx, cfg, attempt.UniqueID, result.Status, now); err != nil {
				return err
			}
		}
		return r.repo.IncrementReconciliationAttempt(ctx, tx, attempt.ID, now)
	})
}

// waitForToken blocks until the gateway token bucket grants a slot or
// the context ends.
func (r *Reconciler) waitForToken(ctx context.Context) {
	for {
		result, err := r.bucket.Allow(ctx, "ratelimit:reconcile_gateway", gatewayRate, gatewayBurst)
		if err != nil || result.Allowed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(rateLimitedBackoff):
		}
	}
}
