package repository

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// CreateUpload implements upload.Repository.
func (s *Store) CreateUpload(ctx context.Context, upload *debtordomain.Upload) error {
	return s.db.WithContext(ctx).Create(upload).Error
}

// GetUpload implements upload.Repository.
func (s *Store) GetUpload(ctx context.Context, id snowflake.ID) (*debtordomain.Upload, error) {
	var upload debtordomain.Upload
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&upload).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &upload, nil
}

// UpdateUploadStatus implements upload.Repository.
func (s *Store) UpdateUploadStatus(ctx context.Context, id snowflake.ID, status debtordomain.UploadStatus) error {
	return s.db.WithContext(ctx).Model(&debtordomain.Upload{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// SetUploadIngestShape implements upload.Repository: the column mapping
// and row count discovered while parsing the stored file.
func (s *Store) SetUploadIngestShape(ctx context.Context, id snowflake.ID, mapping map[string]string, totalRows int) error {
	encoded := make(datatypes.JSONMap, len(mapping))
	for k, v := range mapping {
		encoded[k] = v
	}
	return s.db.WithContext(ctx).Model(&debtordomain.Upload{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"column_mapping": encoded,
			"total_rows":     totalRows,
		}).Error
}

// MergeUploadSkipStats implements upload.Repository: folds one chunk's
// skip histogram and row-error examples into upload.meta under a row
// lock, capping the retained examples at maxMetaErrors.
func (s *Store) MergeUploadSkipStats(ctx context.Context, id snowflake.ID, histogram map[string]int, examples []map[string]interface{}) error {
	const maxMetaErrors = 100
	if len(histogram) == 0 && len(examples) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload debtordomain.Upload
		query := tx
		if supportsRowLocking(tx) {
			query = query.Clauses(lockingClause())
		}
		if err := query.Where("id = ?", id).Take(&upload).Error; err != nil {
			return err
		}
		meta := upload.Meta
		if meta == nil {
			meta = datatypes.JSONMap{}
		}

		skipped, _ := meta["skipped"].(map[string]interface{})
		if skipped == nil {
			skipped = map[string]interface{}{}
		}
		for reason, count := range histogram {
			prev := 0
			switch v := skipped[reason].(type) {
			case float64:
				prev = int(v)
			case json.Number:
				if n, err := v.Int64(); err == nil {
					prev = int(n)
				}
			}
			skipped[reason] = prev + count
		}
		meta["skipped"] = skipped

		errs, _ := meta["errors"].([]interface{})
		for _, example := range examples {
			if len(errs) >= maxMetaErrors {
				break
			}
			errs = append(errs, example)
		}
		meta["errors"] = errs

		return tx.Model(&debtordomain.Upload{}).
			Where("id = ?", id).
			Update("meta", meta).Error
	})
}

// CreateDebtors implements upload.Repository: a single batched insert for
// the whole chunk.
func (s *Store) CreateDebtors(ctx context.Context, debtors []debtordomain.Debtor) error {
	if len(debtors) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&debtors).Error
}

// GetProfileByIBANHash implements upload.Repository's import-time
// exclusivity lookup (not FOR UPDATE — the locked re-check happens again
// at billing time in the worker).
func (s *Store) GetProfileByIBANHash(ctx context.Context, hash string) (*debtordomain.DebtorProfile, error) {
	if hash == "" {
		return nil, nil
	}
	var profile debtordomain.DebtorProfile
	err := s.db.WithContext(ctx).Where("iban_hash = ?", hash).Take(&profile).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// UpdateUploadCounters implements upload.Repository: atomically adds to
// the upload's processed/failed row counters.
func (s *Store) UpdateUploadCounters(ctx context.Context, uploadID snowflake.ID, processed, failed int) error {
	return s.db.WithContext(ctx).Model(&debtordomain.Upload{}).
		Where("id = ?", uploadID).
		Updates(map[string]interface{}{
			"processed": clause.Expr{SQL: "processed + ?", Vars: []interface{}{processed}},
			"failed":    clause.Expr{SQL: "failed + ?", Vars: []interface{}{failed}},
		}).Error
}
