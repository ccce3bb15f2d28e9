package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// FindEligibleDebtorIDs implements billing.Repository. A debtor
// qualifies when it passed validation, was not skipped at import time,
// still sits in uploaded, and:
//   - its profile matches the target model, or it has no profile yet,
//     or the target is "all";
//   - it has no in-flight attempt, unless the profile runs a non-legacy
//     model (those are guarded by the cycle lock instead);
//   - no BAV check ever came back as an outright name mismatch.
func (s *Store) FindEligibleDebtorIDs(ctx context.Context, uploadID snowflake.ID, targetModel debtordomain.BillingModel) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(`
		SELECT d.id FROM debtors d
		LEFT JOIN debtor_profiles p ON p.id = d.debtor_profile_id
		WHERE d.upload_id = ?
		  AND d.validation_status = ?
		  AND d.skip_reason = ''
		  AND d.status = ?
		  AND (? = 'all' OR p.id IS NULL OR p.billing_model = ?)
		  AND (
			p.billing_model IN ('flywheel', 'recovery')
			OR NOT EXISTS (
				SELECT 1 FROM billing_attempts ba
				WHERE ba.debtor_id = d.id AND ba.status IN ('pending', 'approved')
			)
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM vop_logs v
			WHERE v.debtor_id = d.id AND v.bav_name_match = 'no'
		  )
		ORDER BY d.id`,
		uploadID, debtordomain.ValidationValid, debtordomain.DebtorStatusUploaded,
		string(targetModel), string(targetModel),
	).Scan(&ids).Error
	return ids, err
}

// SetUploadPhase implements billing.Repository. batchID is logged by the
// caller, not persisted: the uploads table tracks phase status only.
func (s *Store) SetUploadPhase(ctx context.Context, uploadID snowflake.ID, phase string, status debtordomain.PhaseStatus, batchID string) error {
	column := phase + "_phase"
	_ = batchID
	return s.db.WithContext(ctx).Model(&debtordomain.Upload{}).
		Where("id = ?", uploadID).
		Update(column, status).Error
}

// LoadDebtor implements billing.WorkerRepository / statemachine.Repository.
func (s *Store) LoadDebtor(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*debtordomain.Debtor, error) {
	var debtor debtordomain.Debtor
	if err := tx.WithContext(ctx).Where("id = ?", id).Take(&debtor).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &debtor, nil
}

// LoadProfileForUpdate implements billing.WorkerRepository: the
// exclusive per-IBAN lock the billing worker relies on before deciding
// whether to bill.
func (s *Store) LoadProfileForUpdate(ctx context.Context, tx *gorm.DB, ibanHash string) (*debtordomain.DebtorProfile, error) {
	var profile debtordomain.DebtorProfile
	query := tx.WithContext(ctx)
	if supportsRowLocking(tx) {
		query = query.Clauses(lockingClause())
	}
	err := query.Where("iban_hash = ?", ibanHash).Take(&profile).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// LoadProfile implements statemachine.Repository (no lock — the
// chargeback path only needs a read-modify-write inside its own
// transaction, which already holds the row via the attempt's FOR
// UPDATE-free load; concurrent billing is excluded by the dispatch lock).
func (s *Store) LoadProfile(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*debtordomain.DebtorProfile, error) {
	var profile debtordomain.DebtorProfile
	if err := tx.WithContext(ctx).Where("id = ?", id).Take(&profile).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (s *Store) CreateProfile(ctx context.Context, tx *gorm.DB, profile *debtordomain.DebtorProfile) error {
	return tx.WithContext(ctx).Create(profile).Error
}

func (s *Store) SaveProfile(ctx context.Context, tx *gorm.DB, profile *debtordomain.DebtorProfile) error {
	return tx.WithContext(ctx).Save(profile).Error
}

func (s *Store) SaveDebtor(ctx context.Context, tx *gorm.DB, debtor *debtordomain.Debtor) error {
	return tx.WithContext(ctx).Save(debtor).Error
}

// NextAttemptNumber implements billing.WorkerRepository.
func (s *Store) NextAttemptNumber(ctx context.Context, tx *gorm.DB, debtorID snowflake.ID) (int, error) {
	var max int
	err := tx.WithContext(ctx).Model(&debtordomain.BillingAttempt{}).
		Where("debtor_id = ?", debtorID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (s *Store) CreateAttempt(ctx context.Context, tx *gorm.DB, attempt *debtordomain.BillingAttempt) error {
	return tx.WithContext(ctx).Create(attempt).Error
}

func (s *Store) SaveAttempt(ctx context.Context, tx *gorm.DB, attempt *debtordomain.BillingAttempt) error {
	return tx.WithContext(ctx).Save(attempt).Error
}

// FindAttemptByUniqueID implements statemachine.Repository.
func (s *Store) FindAttemptByUniqueID(ctx context.Context, tx *gorm.DB, uniqueID string) (*debtordomain.BillingAttempt, error) {
	var attempt debtordomain.BillingAttempt
	err := tx.WithContext(ctx).Where("unique_id = ?", uniqueID).Take(&attempt).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (s *Store) CreateBlacklistEntry(ctx context.Context, tx *gorm.DB, entry *debtordomain.Blacklist) error {
	return tx.WithContext(ctx).Clauses(onConflictDoNothing("iban_hash")).Create(entry).Error
}

func (s *Store) CreateChargeback(ctx context.Context, tx *gorm.DB, chargeback *debtordomain.Chargeback) error {
	return tx.WithContext(ctx).Create(chargeback).Error
}

func (s *Store) FindChargebackByUniqueID(ctx context.Context, tx *gorm.DB, uniqueID string) (*debtordomain.Chargeback, error) {
	var cb debtordomain.Chargeback
	err := tx.WithContext(ctx).Where("original_transaction_unique_id = ?", uniqueID).Take(&cb).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &cb, nil
}
