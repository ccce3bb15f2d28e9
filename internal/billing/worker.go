package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	"github.com/smallbiznis/sepa-recovery/internal/circuitbreaker"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtorprofile"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	"github.com/smallbiznis/sepa-recovery/internal/iban"
	obsmetrics "github.com/smallbiznis/sepa-recovery/internal/observability/metrics"
	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
	"github.com/smallbiznis/sepa-recovery/pkg/db"
)

// circuitName identifies the gateway's shared breaker key.
const circuitName = "emp_circuit_breaker"

// gatewayRate is the nominal charge-call budget per second.
const (
	gatewayRate  = 50
	gatewayBurst = 100
)

// rateLimitedBackoff is how long the worker sleeps when the token bucket
// is drained before asking again.
const rateLimitedBackoff = 100 * time.Millisecond

// backoffSchedule is the transient-retry backoff table.
var backoffSchedule = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// ContextSource tags the origin of a billing attempt.
type ContextSource string

const (
	ContextBatchUpload      ContextSource = "batch_upload"
	ContextRecurringBilling ContextSource = "recurring_billing"
)

// WorkerRepository is the transactional persistence seam the chunk
// worker needs.
type WorkerRepository interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	LoadDebtor(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*debtordomain.Debtor, error)
	LoadProfileForUpdate(ctx context.Context, tx *gorm.DB, ibanHash string) (*debtordomain.DebtorProfile, error)
	CreateProfile(ctx context.Context, tx *gorm.DB, profile *debtordomain.DebtorProfile) error
	SaveProfile(ctx context.Context, tx *gorm.DB, profile *debtordomain.DebtorProfile) error
	NextAttemptNumber(ctx context.Context, tx *gorm.DB, debtorID snowflake.ID) (int, error)
	CreateAttempt(ctx context.Context, tx *gorm.DB, attempt *debtordomain.BillingAttempt) error
	FindAttemptByUniqueID(ctx context.Context, tx *gorm.DB, uniqueID string) (*debtordomain.BillingAttempt, error)
	SaveDebtor(ctx context.Context, tx *gorm.DB, debtor *debtordomain.Debtor) error
}

// Worker performs the rate-limited, circuit-broken per-debtor billing
// loop.
type Worker struct {
	repo    WorkerRepository
	gw      gateway.Client
	breaker *circuitbreaker.Breaker
	bucket  *ratelimit.TokenBucket
	billing *config.BillingModelConfigHolder
	genID   *snowflake.Node
	metrics *obsmetrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

func NewWorker(repo WorkerRepository, gw gateway.Client, breaker *circuitbreaker.Breaker, bucket *ratelimit.TokenBucket, billing *config.BillingModelConfigHolder, genID *snowflake.Node, metrics *obsmetrics.Metrics, log *zap.Logger) *Worker {
	return &Worker{
		repo:    repo,
		gw:      gw,
		breaker: breaker,
		bucket:  bucket,
		billing: billing,
		genID:   genID,
		metrics: metrics,
		log:     log.Named("billing.worker"),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

// ProcessChunk bills every debtor in ids, serialized through a
// per-second token bucket, guarded by the shared circuit breaker.
// Finding the circuit open returns ErrCircuitOpen so the caller can
// release the chunk back onto the queue; a per-debtor failure is logged
// and the loop continues.
func (w *Worker) ProcessChunk(ctx context.Context, uploadID snowflake.ID, targetModel debtordomain.BillingModel, batchID string, ids []snowflake.ID) error {
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		allowed, err := w.breaker.Allow(ctx, circuitName)
		if err != nil {
			w.log.Warn("circuit breaker check failed", zap.Error(err))
		}
		if !allowed {
			return apperrors.ErrCircuitOpen
		}

		w.waitForToken(ctx)

		source := ContextBatchUpload
		if uploadID == 0 {
			source = ContextRecurringBilling
		}
		if err := w.billOne(ctx, id, targetModel, uploadID, batchID, source); err != nil {
			w.log.Warn("billing attempt failed",
				zap.String("debtor_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) billOne(ctx context.Context, debtorID snowflake.ID, targetModel debtordomain.BillingModel, uploadID snowflake.ID, batchID string, source ContextSource) error {
	return w.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		debtor, err := w.repo.LoadDebtor(ctx, tx, debtorID)
		if err != nil {
			return err
		}
		if !CanBill(debtor) {
			return nil
		}

		profile, err := w.repo.LoadProfileForUpdate(ctx, tx, debtor.IBANHash)
		if err != nil {
			return err
		}

		billingCfg := w.billing.Get()
		now := w.now()
		model := effectiveModel(targetModel, profile)

		if profile != nil {
			if !profile.IsActive {
				return nil
			}
			accept, _ := debtorprofile.EnsureExclusivity(profile, model)
			if !accept {
				return nil
			}
			if debtorprofile.CycleLocked(profile, model, now) {
				w.log.Info("cycle lock active, skipping debtor",
					zap.String("debtor_id", debtor.ID.String()),
					zap.Timep("next_bill_at", profile.NextBillAt))
				return nil
			}
		} else {
			profile = &debtordomain.DebtorProfile{
				ID:       w.genID.Generate(),
				IBANHash: debtor.IBANHash,
				Currency: debtor.Currency,
				IsActive: true,
			}
			if err := w.repo.CreateProfile(ctx, tx, profile); err != nil {
				return err
			}
		}

		debtorprofile.ConfigureProfile(profile, model, billingCfg, iban.Mask(debtor.IBAN))

		amount := amountToBill(model, debtor, profile)
		if !amountAllowed(billingCfg, model, amount) {
			return nil
		}

		attemptNumber, err := w.repo.NextAttemptNumber(ctx, tx, debtor.ID)
		if err != nil {
			return err
		}

		idempotencyKey := IdempotencyKey(debtor.ID, attemptNumber, now)
		result, chargeErr := w.chargeWithRetry(ctx, amount, debtor, idempotencyKey)
		if chargeErr != nil {
			_ = w.breaker.RecordFailure(ctx, circuitName)
			return chargeErr
		}
		_ = w.breaker.Reset(ctx, circuitName)

		var uploadRef *snowflake.ID
		if uploadID != 0 {
			uploadRef = &uploadID
		}
		attempt := &debtordomain.BillingAttempt{
			ID:               w.genID.Generate(),
			DebtorID:         debtor.ID,
			UploadID:         uploadRef,
			ProfileID:        profile.ID,
			AttemptNumber:    attemptNumber,
			UniqueID:         result.UniqueID,
			IdempotencyKey:   idempotencyKey,
			AmountMinorUnits: amount,
			Currency:         debtor.Currency,
			BillingModel:     model,
			Status:           mapAttemptStatus(result.Status),
			ErrorCode:        result.ErrorCode,
			ErrorMessage:     result.ErrorMessage,
			Meta: map[string]interface{}{
				"batch_id":       batchID,
				"context_source": string(source),
			},
		}

		w.metrics.RecordBillingAttempt(ctx, string(model), string(attempt.Status))
		if err := w.repo.CreateAttempt(ctx, tx, attempt); err != nil {
			// A duplicate unique_id means the gateway already knows this
			// charge; adopt the existing attempt instead of re-inserting.
			if db.IsDuplicateKeyErr(err) && result.UniqueID != "" {
				existing, findErr := w.repo.FindAttemptByUniqueID(ctx, tx, result.UniqueID)
				if findErr != nil {
					return findErr
				}
				if existing != nil {
					attempt = existing
				}
			} else {
				return err
			}
		}

		if (attempt.Status == debtordomain.AttemptApproved || attempt.Status == debtordomain.AttemptPending) && model != debtordomain.ModelLegacy {
			if attempt.Status == debtordomain.AttemptApproved {
				profile.LastSuccessAt = &now
			}
			profile.LastBilledAt = &now
			debtorprofile.LockCycle(billingCfg, profile, model, now)
		}
		if attempt.Status == debtordomain.AttemptApproved {
			profile.LifetimeRevenue += attempt.AmountMinorUnits
		}
		if err := w.repo.SaveProfile(ctx, tx, profile); err != nil {
			return err
		}

		debtor.DebtorProfileID = &profile.ID
		switch attempt.Status {
		case debtordomain.AttemptApproved:
			debtor.Status = debtordomain.DebtorStatusApproved
		case debtordomain.AttemptDeclined, debtordomain.AttemptError, debtordomain.AttemptVoided:
			debtor.Status = debtordomain.DebtorStatusFailed
		default:
			debtor.Status = debtordomain.DebtorStatusPending
		}
		return w.repo.SaveDebtor(ctx, tx, debtor)
	})
}

// chargeWithRetry calls the gateway, retrying transient failures on the
// fixed backoff table. Permanent rejections surface immediately.
func (w *Worker) chargeWithRetry(ctx context.Context, amount int64, debtor *debtordomain.Debtor, idempotencyKey string) (gateway.ChargeResult, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := w.gw.Charge(ctx, amount, debtor.Currency, debtor.IBAN, "sepa_recovery", idempotencyKey)
		if err == nil {
			return result, nil
		}
		if !apperrors.Is(err, apperrors.KindUnavailable) {
			return gateway.ChargeResult{}, err
		}
		lastErr = err
		delay := BackoffFor(attempt + 1)
		if delay == 0 {
			return gateway.ChargeResult{}, lastErr
		}
		w.sleep(ctx, delay)
		if ctx.Err() != nil {
			return gateway.ChargeResult{}, ctx.Err()
		}
	}
}

// waitForToken blocks until the charge token bucket grants a slot or the
// context ends.
func (w *Worker) waitForToken(ctx context.Context) {
	for {
		result, err := w.bucket.Allow(ctx, "ratelimit:billing_gateway", gatewayRate, gatewayBurst)
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

// CanBill reports whether a debtor is in a billable state: validated,
// and not already recovered or failed.
func CanBill(debtor *debtordomain.Debtor) bool {
	if debtor == nil {
		return false
	}
	switch debtor.Status {
	case debtordomain.DebtorStatusRecovered, debtordomain.DebtorStatusFailed:
		return false
	}
	return debtor.ValidationStatus == debtordomain.ValidationValid
}

// effectiveModel resolves the per-debtor model for this run: an "all"
// target follows the profile's own model, defaulting to legacy for
// profileless debtors.
func effectiveModel(target debtordomain.BillingModel, profile *debtordomain.DebtorProfile) debtordomain.BillingModel {
	if target != debtordomain.ModelAll {
		return target
	}
	if profile != nil && profile.BillingModel != "" {
		return profile.BillingModel
	}
	return debtordomain.ModelLegacy
}

// amountToBill decides the charge amount: legacy bills the debtor's own
// row amount; non-legacy bills the profile's standing billing amount.
func amountToBill(model debtordomain.BillingModel, debtor *debtordomain.Debtor, profile *debtordomain.DebtorProfile) int64 {
	if model == debtordomain.ModelLegacy {
		return debtor.AmountMinorUnits
	}
	return profile.BillingAmount
}

// amountAllowed checks the amount against the model's configured range;
// legacy has no configured range and accepts any positive amount.
func amountAllowed(cfg config.BillingModelConfig, model debtordomain.BillingModel, amount int64) bool {
	if amount <= 0 {
		return false
	}
	if model == debtordomain.ModelLegacy {
		return true
	}
	r, ok := cfg.AmountRanges[config.BillingModel(model)]
	if !ok {
		return false
	}
	return r.Contains(amount)
}

// IdempotencyKey derives the client-side idempotency key: a hash of
// debtor id, attempt number, and a timestamp bucket (minute
// granularity), so a retried dispatch within the same minute reuses the
// same key.
func IdempotencyKey(debtorID snowflake.ID, attemptNumber int, now time.Time) string {
	bucket := now.Truncate(time.Minute).Unix()
	payload := fmt.Sprintf("%s|%d|%d", debtorID.String(), attemptNumber, bucket)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func mapAttemptStatus(status gateway.Status) debtordomain.AttemptStatus {
	switch status {
	case gateway.StatusApproved:
		return debtordomain.AttemptApproved
	case gateway.StatusDeclined:
		return debtordomain.AttemptDeclined
	case gateway.StatusError:
		return debtordomain.AttemptError
	case gateway.StatusVoided:
		return debtordomain.AttemptVoided
	case gateway.StatusChargebacked:
		return debtordomain.AttemptChargebacked
	default:
		return debtordomain.AttemptPending
	}
}

// BackoffFor returns the retry delay for the given 1-indexed transient
// retry attempt. A zero duration is returned once the table is exhausted
// (caller gives up).
func BackoffFor(attempt int) time.Duration {
	if attempt < 1 || attempt > len(backoffSchedule) {
		return 0
	}
	return backoffSchedule[attempt-1]
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
