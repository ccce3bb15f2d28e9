// Package repository is the single GORM-backed persistence
// implementation satisfying every narrow Repository interface declared
// by internal/dedup, internal/upload, internal/billing,
// internal/statemachine, and internal/reconcile: one Store behind many
// small interfaces, rather than one fat interface per consumer.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the concrete repository backing the recovery pipeline.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTransaction runs fn inside a single GORM transaction, the shape
// every write-path package (billing, webhook, reconcile) depends on.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// lockingClause issues FOR UPDATE SKIP LOCKED, letting concurrent chunk
// workers for different IBANs proceed without blocking on each other.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
}

// supportsRowLocking reports whether the connected dialect understands
// SELECT ... FOR UPDATE. sqlite (used by the test suite) does not; its
// single-writer model makes the clause unnecessary there anyway.
func supportsRowLocking(tx *gorm.DB) bool {
	if tx == nil || tx.Dialector == nil {
		return false
	}
	return tx.Dialector.Name() != "sqlite"
}

func onConflictDoNothing(uniqueColumn string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: uniqueColumn}},
		DoNothing: true,
	}
}
