// Package statemachine applies gateway-reported status transitions to a
// BillingAttempt plus their side effects (profile/debtor/blacklist
// updates), shared by the webhook handler and the reconciler so the two
// ingestion paths can never diverge in how they interpret the same
// status.
package statemachine

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtorprofile"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
)

// Repository is the persistence seam the transition functions need.
// Implementations run entirely inside a caller-managed transaction.
type Repository interface {
	FindAttemptByUniqueID(ctx context.Context, tx *gorm.DB, uniqueID string) (*debtordomain.BillingAttempt, error)
	LoadDebtor(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*debtordomain.Debtor, error)
	LoadProfile(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*debtordomain.DebtorProfile, error)
	SaveAttempt(ctx context.Context, tx *gorm.DB, attempt *debtordomain.BillingAttempt) error
	SaveProfile(ctx context.Context, tx *gorm.DB, profile *debtordomain.DebtorProfile) error
	SaveDebtor(ctx context.Context, tx *gorm.DB, debtor *debtordomain.Debtor) error
	CreateBlacklistEntry(ctx context.Context, tx *gorm.DB, entry *debtordomain.Blacklist) error
	CreateChargeback(ctx context.Context, tx *gorm.DB, chargeback *debtordomain.Chargeback) error
	FindChargebackByUniqueID(ctx context.Context, tx *gorm.DB, uniqueID string) (*debtordomain.Chargeback, error)
}

// Transition is the outcome of one transition call, reported back to the
// caller (webhook handler, reconciler) for logging/metrics.
type Transition struct {
	AlreadyProcessed bool
	Attempt          *debtordomain.BillingAttempt
	NewStatus        gateway.Status
}

// ApplyStatus is the single authority for turning a gateway-reported
// status (from an sdd_status_update webhook or a reconcile poll) into
// attempt and debtor state. It is idempotent: re-applying the same
// unique_id with the same status is a no-op, and an unrecognized status
// ("unchanged") never transitions anything.
//
// A chargebacked status through this path only flips the attempt and
// fails the debtor; the full chargeback side effects (blacklist, profile
// deactivation, Chargeback record) require a reason code and run through
// ApplyChargeback.
func ApplyStatus(ctx context.Context, repo Repository, tx *gorm.DB, cfg config.BillingModelConfig, uniqueID string, status gateway.Status, now time.Time) (Transition, error) {
	if status == gateway.StatusUnchanged {
		return Transition{AlreadyProcessed: true, NewStatus: status}, nil
	}

	attempt, err := repo.FindAttemptByUniqueID(ctx, tx, uniqueID)
	if err != nil {
		return Transition{}, err
	}
	if attempt == nil {
		return Transition{}, nil
	}

	if attempt.Status == debtordomain.AttemptStatus(status) {
		return Transition{AlreadyProcessed: true, Attempt: attempt, NewStatus: status}, nil
	}
	if attempt.Status == debtordomain.AttemptChargebacked {
		// Chargebacked is terminal; nothing downgrades it.
		return Transition{AlreadyProcessed: true, Attempt: attempt, NewStatus: status}, nil
	}

	attempt.Status = debtordomain.AttemptStatus(status)
	if status == gateway.StatusChargebacked {
		attempt.ChargebackedAt = &now
	}
	if err := repo.SaveAttempt(ctx, tx, attempt); err != nil {
		return Transition{}, err
	}

	debtor, err := repo.LoadDebtor(ctx, tx, attempt.DebtorID)
	if err != nil {
		return Transition{}, err
	}
	if debtor == nil {
		return Transition{Attempt: attempt, NewStatus: status}, nil
	}

	switch status {
	case gateway.StatusApproved:
		if err := applySuccess(ctx, repo, tx, cfg, attempt, debtor, now); err != nil {
			return Transition{}, err
		}
	case gateway.StatusDeclined, gateway.StatusError, gateway.StatusChargebacked:
		debtor.Status = debtordomain.DebtorStatusFailed
	}

	if err := repo.SaveDebtor(ctx, tx, debtor); err != nil {
		return Transition{}, err
	}
	return Transition{Attempt: attempt, NewStatus: status}, nil
}

// applySuccess credits the profile's lifetime revenue, advances the
// billing cycle for non-legacy models, and marks the debtor recovered.
func applySuccess(ctx context.Context, repo Repository, tx *gorm.DB, cfg config.BillingModelConfig, attempt *debtordomain.BillingAttempt, debtor *debtordomain.Debtor, now time.Time) error {
	debtor.Status = debtordomain.DebtorStatusRecovered

	if debtor.DebtorProfileID == nil {
		return nil
	}
	profile, err := repo.LoadProfile(ctx, tx, *debtor.DebtorProfileID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}

	profile.LifetimeRevenue += attempt.AmountMinorUnits
	if attempt.BillingModel != debtordomain.ModelLegacy {
		profile.LastSuccessAt = &now
		profile.LastBilledAt = &now
		debtorprofile.LockCycle(cfg, profile, attempt.BillingModel, now)
	}
	return repo.SaveProfile(ctx, tx, profile)
}

// ApplyChargeback records a full chargeback against the attempt
// identified by uniqueID: attempt status, reason fields and ARN, debtor
// failure, profile deactivation with a clamped revenue deduction, an
// optional blacklist entry when the reason code is configured for
// auto-blacklisting, and exactly one Chargeback record. A repeated
// delivery for the same unique_id is a no-op.
func ApplyChargeback(ctx context.Context, repo Repository, tx *gorm.DB, genID *snowflake.Node, cfg config.BillingModelConfig, uniqueID string, detail gateway.ChargebackDetail, source debtordomain.ChargebackSource, now time.Time) (Transition, error) {
	attempt, err := repo.FindAttemptByUniqueID(ctx, tx, uniqueID)
	if err != nil {
		return Transition{}, err
	}
	if attempt == nil {
		return Transition{}, nil
	}

	existing, err := repo.FindChargebackByUniqueID(ctx, tx, uniqueID)
	if err != nil {
		return Transition{}, err
	}
	if existing != nil || attempt.Status == debtordomain.AttemptChargebacked {
		return Transition{AlreadyProcessed: true, Attempt: attempt, NewStatus: gateway.StatusChargebacked}, nil
	}

	attempt.Status = debtordomain.AttemptChargebacked
	attempt.ChargebackedAt = &now
	attempt.ChargebackReasonCode = detail.ReasonCode
	if detail.ReasonCode != "" {
		attempt.ErrorCode = detail.ReasonCode
	}
	if detail.Description != "" {
		attempt.ErrorMessage = detail.Description
	}
	if detail.ARN != "" {
		if attempt.Meta == nil {
			attempt.Meta = map[string]interface{}{}
		}
		attempt.Meta["arn"] = detail.ARN
	}
	if err := repo.SaveAttempt(ctx, tx, attempt); err != nil {
		return Transition{}, err
	}

	debtor, err := repo.LoadDebtor(ctx, tx, attempt.DebtorID)
	if err != nil {
		return Transition{}, err
	}
	if debtor == nil {
		return Transition{Attempt: attempt, NewStatus: gateway.StatusChargebacked}, nil
	}
	debtor.Status = debtordomain.DebtorStatusFailed
	if err := repo.SaveDebtor(ctx, tx, debtor); err != nil {
		return Transition{}, err
	}

	amount := detail.AmountMinorUnits
	if amount == 0 {
		amount = attempt.AmountMinorUnits
	}

	if debtor.DebtorProfileID != nil {
		profile, err := repo.LoadProfile(ctx, tx, *debtor.DebtorProfileID)
		if err != nil {
			return Transition{}, err
		}
		if profile != nil {
			debtorprofile.DeductRevenue(profile, amount)
			profile.IsActive = false
			profile.NextBillAt = nil
			if err := repo.SaveProfile(ctx, tx, profile); err != nil {
				return Transition{}, err
			}
		}
	}

	if debtor.IBAN != "" && blacklistCode(cfg, detail.ReasonCode) {
		entry := &debtordomain.Blacklist{
			ID:        genID.Generate(),
			IBANHash:  debtor.IBANHash,
			IBAN:      debtor.IBAN,
			FirstName: debtor.FirstName,
			LastName:  debtor.LastName,
			Email:     debtor.Email,
			Reason:    "chargeback",
			Source:    string(source),
		}
		if err := repo.CreateBlacklistEntry(ctx, tx, entry); err != nil {
			return Transition{}, err
		}
	}

	currency := detail.Currency
	if currency == "" {
		currency = attempt.Currency
	}
	chargeback := &debtordomain.Chargeback{
		ID:                          genID.Generate(),
		BillingAttemptID:            attempt.ID,
		DebtorID:                    debtor.ID,
		OriginalTransactionUniqueID: uniqueID,
		Type:                        detail.Type,
		ReasonCode:                  detail.ReasonCode,
		ReasonDescription:           detail.Description,
		AmountMinorUnits:            amount,
		Currency:                    currency,
		PostDate:                    detail.PostDate,
		ImportDate:                  now,
		Source:                      source,
		RawResponse:                 detail.Raw,
	}
	if err := repo.CreateChargeback(ctx, tx, chargeback); err != nil {
		return Transition{}, err
	}
	return Transition{Attempt: attempt, NewStatus: gateway.StatusChargebacked}, nil
}

// AppendRetrievalRequest records a retrieval-request notification on the
// attempt's meta without changing any other state.
func AppendRetrievalRequest(ctx context.Context, repo Repository, tx *gorm.DB, uniqueID string, payload map[string]interface{}, now time.Time) (Transition, error) {
	attempt, err := repo.FindAttemptByUniqueID(ctx, tx, uniqueID)
	if err != nil {
		return Transition{}, err
	}
	if attempt == nil {
		return Transition{}, nil
	}

	if attempt.Meta == nil {
		attempt.Meta = map[string]interface{}{}
	}
	var requests []interface{}
	if existing, ok := attempt.Meta["retrieval_requests"].([]interface{}); ok {
		requests = existing
	}
	entry := map[string]interface{}{"received_at": now.Format(time.RFC3339)}
	for k, v := range payload {
		entry[k] = v
	}
	attempt.Meta["retrieval_requests"] = append(requests, entry)

	if err := repo.SaveAttempt(ctx, tx, attempt); err != nil {
		return Transition{}, err
	}
	return Transition{Attempt: attempt}, nil
}

func blacklistCode(cfg config.BillingModelConfig, code string) bool {
	if code == "" {
		return false
	}
	for _, c := range cfg.ChargebackBlacklistCodes {
		if c == code {
			return true
		}
	}
	return false
}
