package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
)

// FindBlacklistedIBANHashes implements dedup.Repository: one batched
// query across the whole incoming hash set, never one query per row.
func (s *Store) FindBlacklistedIBANHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	result := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&debtordomain.Blacklist{}).
		Where("iban_hash IN ?", hashes).
		Pluck("iban_hash", &found).Error; err != nil {
		return nil, err
	}
	for _, h := range found {
		result[h] = true
	}
	return result, nil
}

func (s *Store) FindChargebackedIBANHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	result := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).
		Table("chargebacks c").
		Joins("JOIN debtors d ON d.id = c.debtor_id").
		Where("d.iban_hash IN ?", hashes).
		Pluck("DISTINCT d.iban_hash", &found).Error; err != nil {
		return nil, err
	}
	for _, h := range found {
		result[h] = true
	}
	return result, nil
}

func (s *Store) FindRecoveredIBANHashes(ctx context.Context, hashes []string, excludeUploadID snowflake.ID) (map[string]bool, error) {
	result := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&debtordomain.Debtor{}).
		Where("iban_hash IN ? AND status = ? AND upload_id <> ?", hashes, debtordomain.DebtorStatusRecovered, excludeUploadID).
		Pluck("DISTINCT iban_hash", &found).Error; err != nil {
		return nil, err
	}
	for _, h := range found {
		result[h] = true
	}
	return result, nil
}

func (s *Store) FindInFlightAttempts(ctx context.Context, hashes []string, since time.Time) (map[string]dedup.InFlightAttempt, error) {
	result := make(map[string]dedup.InFlightAttempt, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	var rows []struct {
		IBANHash  string    `gorm:"column:iban_hash"`
		Status    string    `gorm:"column:status"`
		CreatedAt time.Time `gorm:"column:created_at"`
	}
	if err := s.db.WithContext(ctx).
		Table("billing_attempts ba").
		Joins("JOIN debtors d ON d.id = ba.debtor_id").
		Where("d.iban_hash IN ? AND ba.status IN ? AND ba.created_at >= ?",
			hashes,
			[]debtordomain.AttemptStatus{debtordomain.AttemptPending, debtordomain.AttemptApproved},
			since,
		).
		Select("d.iban_hash AS iban_hash, ba.status AS status, ba.created_at AS created_at").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		existing, ok := result[r.IBANHash]
		if !ok || r.CreatedAt.After(existing.CreatedAt) {
			result[r.IBANHash] = dedup.InFlightAttempt{Status: r.Status, CreatedAt: r.CreatedAt}
		}
	}
	return result, nil
}

func (s *Store) FindBlacklistedNameKeys(ctx context.Context, nameKeys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(nameKeys))
	if len(nameKeys) == 0 {
		return result, nil
	}
	var rows []struct {
		FirstName string `gorm:"column:first_name"`
		LastName  string `gorm:"column:last_name"`
	}
	if err := s.db.WithContext(ctx).Model(&debtordomain.Blacklist{}).
		Where("first_name <> '' OR last_name <> ''").
		Select("first_name, last_name").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(nameKeys))
	for _, k := range nameKeys {
		wanted[k] = true
	}
	for _, r := range rows {
		key := nameKeyOf(r.FirstName, r.LastName)
		if wanted[key] {
			result[key] = true
		}
	}
	return result, nil
}

func (s *Store) FindBlacklistedEmails(ctx context.Context, emails []string) (map[string]bool, error) {
	result := make(map[string]bool, len(emails))
	if len(emails) == 0 {
		return result, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&debtordomain.Blacklist{}).
		Where("email IN ?", emails).
		Pluck("DISTINCT email", &found).Error; err != nil {
		return nil, err
	}
	for _, e := range found {
		result[e] = true
	}
	return result, nil
}

// IsBlacklistedName implements validation.BlacklistChecker.
func (s *Store) IsBlacklistedName(ctx context.Context, first, last string) (bool, error) {
	if first == "" && last == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&debtordomain.Blacklist{}).
		Where("LOWER(first_name) = LOWER(?) AND LOWER(last_name) = LOWER(?)", first, last).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsBlacklistedEmail implements validation.BlacklistChecker.
func (s *Store) IsBlacklistedEmail(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&debtordomain.Blacklist{}).
		Where("LOWER(email) = LOWER(?)", email).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func nameKeyOf(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first)) + "|" + strings.ToLower(strings.TrimSpace(last))
}
