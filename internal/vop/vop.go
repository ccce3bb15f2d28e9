// Package vop computes the Verification-of-Payee readiness score and
// drives the BAV (Bank Account Verification) name-match sampling flow.
package vop

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/sepa-recovery/internal/iban"
)

// Result is the closed set of score-bucket outcomes.
type Result string

const (
	ResultVerified       Result = "verified"
	ResultLikelyVerified Result = "likely_verified"
	ResultInconclusive   Result = "inconclusive"
	ResultMismatch       Result = "mismatch"
	ResultRejected       Result = "rejected"
)

// NameMatch is the raw BAV outcome enum.
type NameMatch string

const (
	NameMatchYes         NameMatch = "yes"
	NameMatchPartial     NameMatch = "partial"
	NameMatchNo          NameMatch = "no"
	NameMatchUnavailable NameMatch = "unavailable"
)

// Weighted point values per predicate, summing to 100.
const (
	pointsIBANValid     = 20
	pointsCountrySEPA   = 15
	pointsBankIdentified = 25
	pointsSEPASDD       = 25
	pointsNameMatchYes  = 15
	pointsNameMatchPart = 10
)

// BankRecord is what the bank directory returns for a country/bank-code
// lookup.
type BankRecord struct {
	Found      bool
	BankName   string
	BIC        string
	SDDCapable bool
	CacheHit   bool
}

// BankDirectory looks up a bank by (country, bank code), backed by a
// local cache table with a remote fallback.
type BankDirectory interface {
	Lookup(ctx context.Context, country, bankCode string) (BankRecord, error)
}

// BAVClient performs the remote name-match verification call.
type BAVClient interface {
	VerifyName(ctx context.Context, iban, firstName, lastName string) (NameMatch, error)
}

// Input is the subset of a validated debtor row VOP scoring needs.
type Input struct {
	IBAN      string
	Country   string
	FirstName string
	LastName  string
}

// Score is the computed result of one scoring run.
type Score struct {
	IBANMasked     string
	IBANValid      bool
	BankIdentified bool
	BankName       string
	BIC            string
	Country        string
	Points         int
	Result         Result
	BAVVerified    bool
	NameMatch      NameMatch
	BankCacheHit   bool
}

// bankCodeLengths gives the number of leading IBAN digits that form the
// national bank identifier, per country (a closed, per-country table;
// countries absent here fall back to an 8-digit guess, the common case).
var bankCodeLengths = map[string]int{
	"DE": 8, "FR": 5, "ES": 4, "IT": 5, "NL": 4, "BE": 3,
	"AT": 5, "PT": 4, "IE": 4, "FI": 3, "LU": 3,
}

// BankCode extracts the national bank-identifier prefix from a
// normalized IBAN, per the country length table.
func BankCode(normalizedIBAN string) string {
	country := iban.Country(normalizedIBAN)
	length, ok := bankCodeLengths[country]
	if !ok {
		length = 8
	}
	start := 4 // after country + 2 check digits
	end := start + length
	if end > len(normalizedIBAN) {
		end = len(normalizedIBAN)
	}
	if start >= end {
		return ""
	}
	return normalizedIBAN[start:end]
}

// Engine scores a debtor's VOP readiness.
type Engine struct {
	banks BankDirectory
	bav   BAVClient
}

func New(banks BankDirectory, bav BAVClient) *Engine {
	return &Engine{banks: banks, bav: bav}
}

// Score computes the weighted 0-100 score and bucket for one debtor.
// selectedForBAV indicates whether the sampler chose this row for a live
// BAV name-match call; unsampled rows score the name-match predicate as
// unavailable (0 points).
func (e *Engine) Score(ctx context.Context, in Input, selectedForBAV bool) (Score, error) {
	normalized := iban.Normalize(in.IBAN)
	valid := iban.Valid(normalized)
	country := iban.Country(normalized)
	if in.Country != "" {
		country = strings.ToUpper(in.Country)
	}

	points := 0
	if valid {
		points += pointsIBANValid
	}
	if iban.IsSEPACountry(country) {
		points += pointsCountrySEPA
	}

	var bank BankRecord
	if e.banks != nil {
		var err error
		bank, err = e.banks.Lookup(ctx, country, BankCode(normalized))
		if err != nil {
			bank = BankRecord{}
		}
	}
	if bank.Found {
		points += pointsBankIdentified
	}
	if bank.SDDCapable {
		points += pointsSEPASDD
	}

	nameMatch := NameMatchUnavailable
	bavVerified := false
	if selectedForBAV && e.bav != nil {
		result, err := e.bav.VerifyName(ctx, normalized, in.FirstName, in.LastName)
		if err == nil {
			nameMatch = result
			bavVerified = result == NameMatchYes || result == NameMatchPartial || result == NameMatchNo
		}
	}
	switch nameMatch {
	case NameMatchYes:
		points += pointsNameMatchYes
	case NameMatchPartial:
		points += pointsNameMatchPart
	}

	return Score{
		IBANMasked:     iban.Mask(normalized),
		IBANValid:      valid,
		BankIdentified: bank.Found,
		BankName:       bank.BankName,
		BIC:            bank.BIC,
		Country:        country,
		Points:         points,
		Result:         bucket(points),
		BAVVerified:    bavVerified,
		NameMatch:      nameMatch,
		BankCacheHit:   bank.CacheHit,
	}, nil
}

// bucket maps a 0-100 score to its result; higher scores never map to a
// weaker result.
func bucket(points int) Result {
	switch {
	case points >= 80:
		return ResultVerified
	case points >= 60:
		return ResultLikelyVerified
	case points >= 40:
		return ResultInconclusive
	case points >= 20:
		return ResultMismatch
	default:
		return ResultRejected
	}
}

// QuotaCounter tracks the BAV daily sampling quota, an INCR+EXPIRE daily
// counter keyed by date.
type QuotaCounter interface {
	// Used returns how many BAV calls have already been made today.
	Used(ctx context.Context, date string) (int, error)
}

// SampleCount computes how many of n debtors should be flagged for BAV
// name-match verification: min(ceil(n*pct/100),
// dailyQuota - alreadyUsedToday), capped at 100 once n exceeds 1000.
func SampleCount(ctx context.Context, quota QuotaCounter, now time.Time, n, samplingPct, dailyQuota int) (int, error) {
	if n <= 0 || samplingPct <= 0 || dailyQuota <= 0 {
		return 0, nil
	}

	wanted := int(math.Ceil(float64(n) * float64(samplingPct) / 100))
	if n > 1000 && wanted > 100 {
		wanted = 100
	}

	used := 0
	if quota != nil {
		var err error
		used, err = quota.Used(ctx, now.Format("2006-01-02"))
		if err != nil {
			return 0, err
		}
	}
	remaining := dailyQuota - used
	if remaining < 0 {
		remaining = 0
	}
	if wanted > remaining {
		wanted = remaining
	}
	if wanted < 0 {
		wanted = 0
	}
	return wanted, nil
}

// BAVDelay returns the inter-call delay for the next BAV or non-BAV row,
// flagged rows wait 1000ms between BAV calls, others
// 500ms.
func BAVDelay(selectedForBAV bool) time.Duration {
	if selectedForBAV {
		return time.Second
	}
	return 500 * time.Millisecond
}
