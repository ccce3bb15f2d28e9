// Package dedup classifies incoming debtor rows against blacklist,
// chargeback, recovery, and recent-attempt history so the ingestor can
// skip rows that must never reach billing. Every rule is evaluated as one
// batched repository query across the whole incoming batch: never one
// query per row.
package dedup

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reason is the closed set of dedup skip reasons, in priority order —
// the first rule that matches wins.
type Reason string

const (
	ReasonBlacklisted       Reason = "blacklisted"
	ReasonChargebacked      Reason = "chargebacked"
	ReasonAlreadyRecovered  Reason = "already_recovered"
	ReasonRecentlyAttempted Reason = "recently_attempted"
	ReasonBlacklistedName   Reason = "blacklisted_name"
	ReasonBlacklistedEmail  Reason = "blacklisted_email"
)

// cooldownWindow is the in-flight lookback window for ReasonRecentlyAttempted.
const cooldownWindow = 30 * 24 * time.Hour

// maxDiagnostics caps how many skipped rows are retained for reporting.
const maxDiagnostics = 100

// Row is the normalized subset of a debtor row the dedup engine needs.
type Row struct {
	Index     int
	IBANHash  string
	FirstName string
	LastName  string
	Email     string
}

// Skip is the outcome recorded against one skipped row index.
type Skip struct {
	Reason     Reason
	Permanent  bool
	DaysAgo    int
	LastStatus string
}

// Repository is the narrow batched-query surface dedup needs; satisfied by
// internal/debtor/repository.Store.
type Repository interface {
	FindBlacklistedIBANHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	FindChargebackedIBANHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	FindRecoveredIBANHashes(ctx context.Context, hashes []string, excludeUploadID snowflake.ID) (map[string]bool, error)
	FindInFlightAttempts(ctx context.Context, hashes []string, since time.Time) (map[string]InFlightAttempt, error)
	FindBlacklistedNameKeys(ctx context.Context, nameKeys []string) (map[string]bool, error)
	FindBlacklistedEmails(ctx context.Context, emails []string) (map[string]bool, error)
}

// InFlightAttempt is the minimal projection dedup needs from a pending or
// approved billing attempt to report cooldown diagnostics.
type InFlightAttempt struct {
	Status    string
	CreatedAt time.Time
}

// Engine classifies a batch of rows against prior history.
type Engine struct {
	repo Repository
	now  func() time.Time
}

func New(repo Repository, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{repo: repo, now: now}
}

// Classify returns, for each row index that must be skipped, the single
// winning Reason (reasons are mutually exclusive: at most one per row).
// uploadID identifies the in-progress upload so the
// "already recovered" rule only looks outside it.
func (e *Engine) Classify(ctx context.Context, uploadID snowflake.ID, rows []Row) (map[int]Skip, error) {
	skips := make(map[int]Skip, len(rows))
	if len(rows) == 0 {
		return skips, nil
	}

	hashes := make([]string, 0, len(rows))
	nameKeys := make([]string, 0, len(rows))
	emails := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.IBANHash != "" {
			hashes = append(hashes, r.IBANHash)
		}
		if key := nameKey(r.FirstName, r.LastName); key != "" {
			nameKeys = append(nameKeys, key)
		}
		if r.Email != "" {
			emails = append(emails, strings.ToLower(strings.TrimSpace(r.Email)))
		}
	}

	blacklistedIBANs, err := e.repo.FindBlacklistedIBANHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	chargebacked, err := e.repo.FindChargebackedIBANHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	recovered, err := e.repo.FindRecoveredIBANHashes(ctx, hashes, uploadID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	inFlight, err := e.repo.FindInFlightAttempts(ctx, hashes, now.Add(-cooldownWindow))
	if err != nil {
		return nil, err
	}
	blacklistedNames, err := e.repo.FindBlacklistedNameKeys(ctx, nameKeys)
	if err != nil {
		return nil, err
	}
	blacklistedEmails, err := e.repo.FindBlacklistedEmails(ctx, emails)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		switch {
		case blacklistedIBANs[r.IBANHash]:
			skips[r.Index] = Skip{Reason: ReasonBlacklisted, Permanent: true}
		case chargebacked[r.IBANHash]:
			skips[r.Index] = Skip{Reason: ReasonChargebacked, Permanent: true}
		case recovered[r.IBANHash]:
			skips[r.Index] = Skip{Reason: ReasonAlreadyRecovered, Permanent: true}
		default:
			if attempt, ok := inFlight[r.IBANHash]; ok {
				daysAgo := int(now.Sub(attempt.CreatedAt).Hours() / 24)
				skips[r.Index] = Skip{
					Reason:     ReasonRecentlyAttempted,
					Permanent:  false,
					DaysAgo:    daysAgo,
					LastStatus: attempt.Status,
				}
				continue
			}
			if key := nameKey(r.FirstName, r.LastName); key != "" && blacklistedNames[key] {
				skips[r.Index] = Skip{Reason: ReasonBlacklistedName, Permanent: true}
				continue
			}
			if email := strings.ToLower(strings.TrimSpace(r.Email)); email != "" && blacklistedEmails[email] {
				skips[r.Index] = Skip{Reason: ReasonBlacklistedEmail, Permanent: true}
			}
		}
	}

	return skips, nil
}

func nameKey(first, last string) string {
	first = strings.ToLower(strings.TrimSpace(first))
	last = strings.ToLower(strings.TrimSpace(last))
	if first == "" && last == "" {
		return ""
	}
	return first + "|" + last
}

// Histogram tallies skip reasons and retains the first maxDiagnostics
// examples, matching the "at most the first 100" retention rule in
// diagnostic reporting.
type Histogram struct {
	Counts   map[Reason]int
	Examples []Example
}

// Example is one retained diagnostic row.
type Example struct {
	Index  int
	Reason Reason
}

func NewHistogram() *Histogram {
	return &Histogram{Counts: make(map[Reason]int)}
}

func (h *Histogram) Add(index int, reason Reason) {
	h.Counts[reason]++
	if len(h.Examples) < maxDiagnostics {
		h.Examples = append(h.Examples, Example{Index: index, Reason: reason})
	}
}
