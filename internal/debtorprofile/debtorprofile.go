// Package debtorprofile implements the per-IBAN billing-model resolver,
// import-time exclusivity rules, and cycle-lock mutator. Each concern is
// a small pure function: no methods on a stateful model, just values in
// and values out.
package debtorprofile

import (
	"time"

	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// SkipReason is the closed set of import-time exclusivity skip reasons.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipExistingLegacy   SkipReason = "existing_legacy_iban"
	SkipModelConflict    SkipReason = "model_conflict"
	SkipCycleLocked      SkipReason = "cycle_locked"
)

// ResolveRowModel derives the per-row billing model from the upload-level
// model and the row amount: legacy uploads always stay legacy; otherwise the upload's model's own amount range is tried first,
// then the other non-legacy range, falling back to legacy.
func ResolveRowModel(cfg config.BillingModelConfig, uploadModel debtordomain.BillingModel, amountMinorUnits int64) debtordomain.BillingModel {
	if uploadModel == debtordomain.ModelLegacy {
		return debtordomain.ModelLegacy
	}

	if r, ok := cfg.AmountRanges[config.BillingModel(uploadModel)]; ok && r.Contains(amountMinorUnits) {
		return uploadModel
	}

	other := otherNonLegacy(uploadModel)
	if r, ok := cfg.AmountRanges[config.BillingModel(other)]; ok && r.Contains(amountMinorUnits) {
		return other
	}

	return debtordomain.ModelLegacy
}

func otherNonLegacy(model debtordomain.BillingModel) debtordomain.BillingModel {
	if model == debtordomain.ModelFlywheel {
		return debtordomain.ModelRecovery
	}
	return debtordomain.ModelFlywheel
}

// EnsureExclusivity applies the IBAN-level exclusivity rules at import
// time, in addition to the dedup engine's rules. profile is
// nil when no profile exists yet for this IBAN hash.
func EnsureExclusivity(profile *debtordomain.DebtorProfile, rowModel debtordomain.BillingModel) (accept bool, reason SkipReason) {
	if profile == nil {
		return true, SkipNone
	}

	switch {
	case rowModel != debtordomain.ModelLegacy && profile.BillingModel == debtordomain.ModelLegacy:
		return false, SkipExistingLegacy
	case rowModel != debtordomain.ModelLegacy && profile.BillingModel != debtordomain.ModelLegacy && profile.BillingModel != rowModel:
		return false, SkipModelConflict
	case rowModel == debtordomain.ModelLegacy && profile.BillingModel != debtordomain.ModelLegacy:
		return false, SkipModelConflict
	default:
		return true, SkipNone
	}
}

// CycleLocked reports whether a non-legacy profile's next_bill_at cycle
// lock is still in force at now.
func CycleLocked(profile *debtordomain.DebtorProfile, targetModel debtordomain.BillingModel, now time.Time) bool {
	if profile == nil || targetModel == debtordomain.ModelLegacy {
		return false
	}
	if profile.NextBillAt == nil {
		return false
	}
	return now.Before(*profile.NextBillAt)
}

// LockCycle sets next_bill_at = now + cycle(model) on a non-legacy
// profile once an attempt is approved or pending.
func LockCycle(cfg config.BillingModelConfig, profile *debtordomain.DebtorProfile, model debtordomain.BillingModel, now time.Time) {
	if profile == nil || model == debtordomain.ModelLegacy {
		return
	}
	days, ok := cfg.CycleDays[config.BillingModel(model)]
	if !ok {
		return
	}
	next := now.AddDate(0, 0, days)
	profile.NextBillAt = &next
}

// ConfigureProfile fills in a profile's unset fields: iban_masked, the
// billing model (taken from the first use, legacy included), and
// billing_amount as the model's configured range minimum. Fields that are
// already set are left as they are; currency is not touched.
func ConfigureProfile(profile *debtordomain.DebtorProfile, model debtordomain.BillingModel, cfg config.BillingModelConfig, ibanMasked string) {
	if profile.IBANMasked == "" {
		profile.IBANMasked = ibanMasked
	}
	if profile.BillingModel == "" {
		profile.BillingModel = model
	}
	if profile.BillingAmount == 0 {
		if r, ok := cfg.AmountRanges[config.BillingModel(model)]; ok {
			profile.BillingAmount = r.Min
		}
	}
}

// DeductRevenue subtracts amount from lifetime_revenue, clamping at zero.
func DeductRevenue(profile *debtordomain.DebtorProfile, amount int64) {
	if profile == nil {
		return
	}
	profile.LifetimeRevenue -= amount
	if profile.LifetimeRevenue < 0 {
		profile.LifetimeRevenue = 0
	}
}
