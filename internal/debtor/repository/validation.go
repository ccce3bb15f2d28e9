package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// ListDebtorsForValidation implements validation.Repository: every
// non-skipped debtor of the upload still awaiting a validation verdict.
func (s *Store) ListDebtorsForValidation(ctx context.Context, uploadID snowflake.ID) ([]debtordomain.Debtor, error) {
	var debtors []debtordomain.Debtor
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND skip_reason = '' AND validation_status = ?",
			uploadID, debtordomain.ValidationPending).
		Order("id").
		Find(&debtors).Error
	return debtors, err
}

// SaveValidationResult implements validation.Repository, stamping
// validated_at alongside the verdict.
func (s *Store) SaveValidationResult(ctx context.Context, debtorID snowflake.ID, status debtordomain.ValidationStatus, validationErrors interface{}, at time.Time) error {
	var encoded []byte
	if validationErrors != nil {
		var err error
		encoded, err = json.Marshal(validationErrors)
		if err != nil {
			return err
		}
	}
	updates := map[string]interface{}{
		"validation_status": status,
		"validated_at":      at,
	}
	if encoded != nil {
		updates["validation_errors"] = encoded
	} else {
		updates["validation_errors"] = nil
	}
	return s.db.WithContext(ctx).Model(&debtordomain.Debtor{}).
		Where("id = ?", debtorID).
		Updates(updates).Error
}
