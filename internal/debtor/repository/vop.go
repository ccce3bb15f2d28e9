package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm/clause"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// ListValidDebtors implements vop.Repository: the validated, non-skipped
// debtors of one upload, in stable id order so BAV sampling is
// deterministic.
func (s *Store) ListValidDebtors(ctx context.Context, uploadID snowflake.ID) ([]debtordomain.Debtor, error) {
	var debtors []debtordomain.Debtor
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND skip_reason = '' AND validation_status = ?",
			uploadID, debtordomain.ValidationValid).
		Order("id").
		Find(&debtors).Error
	return debtors, err
}

// MarkSelectedForBAV implements vop.Repository.
func (s *Store) MarkSelectedForBAV(ctx context.Context, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&debtordomain.Debtor{}).
		Where("id IN ?", ids).
		Update("selected_for_bav", true).Error
}

// CreateVopLog implements vop.Repository.
func (s *Store) CreateVopLog(ctx context.Context, log *debtordomain.VopLog) error {
	return s.db.WithContext(ctx).Create(log).Error
}

// GetBankCacheEntry implements vop.CacheStore.
func (s *Store) GetBankCacheEntry(ctx context.Context, country, bankCode string) (*debtordomain.BankCacheEntry, error) {
	var entry debtordomain.BankCacheEntry
	err := s.db.WithContext(ctx).
		Where("country = ? AND bank_code = ?", country, bankCode).
		Take(&entry).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpsertBankCacheEntry implements vop.CacheStore: write-back of a remote
// lookup, last writer wins on the (country, bank_code) key.
func (s *Store) UpsertBankCacheEntry(ctx context.Context, entry *debtordomain.BankCacheEntry) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "country"}, {Name: "bank_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"found", "bank_name", "bic", "sdd_capable", "updated_at"}),
	}).Create(entry).Error
}
