// Package validation runs the ordered structural/semantic checks against
// a debtor row. Every failure is a value collected into a slice; only
// truly fatal conditions propagate as errors.
package validation

import (
	"context"
	"net/mail"
	"strings"
	"unicode"

	"github.com/smallbiznis/sepa-recovery/internal/iban"
)

// Code is the closed set of validation error codes.
type Code string

const (
	CodeMissingIBAN     Code = "missing_iban"
	CodeMissingName     Code = "missing_name"
	CodeMissingAmount   Code = "missing_amount"
	CodeNameTooLong     Code = "name_too_long"
	CodeNameInvalidChar Code = "name_invalid_char"
	CodeIBANChecksum    Code = "iban_checksum_invalid"
	CodeCountryNotSEPA  Code = "country_not_sepa"
	CodeAmountOutOfRange Code = "amount_out_of_range"
	CodeInvalidEmail    Code = "invalid_email"
	CodeEncoding        Code = "encoding_invalid"
	CodeBlacklisted     Code = "blacklisted"
)

const (
	maxNamePartLength = 35
	minAmount         = 1
	maxAmount         = 50000_00 // minor units, 50000.00
)

// Error is one collected validation failure.
type Error struct {
	Code    Code
	Field   string
	Message string
}

// Row is the subset of a debtor row validation needs. Amount is in minor
// currency units (cents).
type Row struct {
	FirstName     string
	LastName      string
	IBAN          string
	Country       string
	AmountMinorUnits int64
	Email         string
	RawFields     map[string]string
}

// Result is the outcome of validating one row.
type Result struct {
	Valid  bool
	Errors []Error
}

// BlacklistChecker is the narrow seam validation uses to run the
// name/email blacklist rules shared with the dedup engine.
type BlacklistChecker interface {
	IsBlacklistedName(ctx context.Context, first, last string) (bool, error)
	IsBlacklistedEmail(ctx context.Context, email string) (bool, error)
}

// Validate runs every ordered check and collects all
// failures; it never short-circuits except where a later check would be
// meaningless against an empty field.
func Validate(ctx context.Context, row Row, blacklist BlacklistChecker) Result {
	var errs []Error

	hasIBAN := strings.TrimSpace(row.IBAN) != ""
	hasName := strings.TrimSpace(row.FirstName) != "" || strings.TrimSpace(row.LastName) != ""

	if !hasIBAN {
		errs = append(errs, Error{Code: CodeMissingIBAN, Field: "iban", Message: "iban is required"})
	}
	if !hasName {
		errs = append(errs, Error{Code: CodeMissingName, Field: "name", Message: "first or last name is required"})
	}
	if row.AmountMinorUnits < minAmount {
		errs = append(errs, Error{Code: CodeMissingAmount, Field: "amount", Message: "amount must be at least 1"})
	}

	for field, value := range map[string]string{"first_name": row.FirstName, "last_name": row.LastName} {
		if value == "" {
			continue
		}
		if len(value) > maxNamePartLength {
			errs = append(errs, Error{Code: CodeNameTooLong, Field: field, Message: field + " exceeds 35 characters"})
		}
		if hasDigitOrDisallowedSymbol(value) {
			errs = append(errs, Error{Code: CodeNameInvalidChar, Field: field, Message: field + " contains a digit or disallowed symbol"})
		}
	}

	if hasIBAN {
		normalized := iban.Normalize(row.IBAN)
		if !iban.Valid(normalized) {
			errs = append(errs, Error{Code: CodeIBANChecksum, Field: "iban", Message: "iban failed checksum validation"})
		} else if !iban.IsSEPACountry(iban.Country(normalized)) {
			errs = append(errs, Error{Code: CodeCountryNotSEPA, Field: "iban", Message: "iban country is not in the SEPA set"})
		}
	}

	if row.AmountMinorUnits > maxAmount {
		errs = append(errs, Error{Code: CodeAmountOutOfRange, Field: "amount", Message: "amount exceeds 50000"})
	}

	if email := strings.TrimSpace(row.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			errs = append(errs, Error{Code: CodeInvalidEmail, Field: "email", Message: "email is not syntactically valid"})
		}
	}

	if country := strings.TrimSpace(row.Country); country != "" && !iban.IsSEPACountry(country) {
		errs = append(errs, Error{Code: CodeCountryNotSEPA, Field: "country", Message: "country is not in the SEPA set"})
	}

	for field, value := range row.RawFields {
		if hasEncodingIssue(value) {
			errs = append(errs, Error{Code: CodeEncoding, Field: field, Message: field + " contains invalid or mojibake encoding"})
		}
	}

	if blacklist != nil {
		if blacklisted, err := blacklist.IsBlacklistedName(ctx, row.FirstName, row.LastName); err == nil && blacklisted {
			errs = append(errs, Error{Code: CodeBlacklisted, Field: "name", Message: "name matches a blacklist entry"})
		}
		if email := strings.TrimSpace(row.Email); email != "" {
			if blacklisted, err := blacklist.IsBlacklistedEmail(ctx, email); err == nil && blacklisted {
				errs = append(errs, Error{Code: CodeBlacklisted, Field: "email", Message: "email matches a blacklist entry"})
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// hasDigitOrDisallowedSymbol rejects any rune that is a digit or a symbol
// other than space, hyphen, or apostrophe.
func hasDigitOrDisallowedSymbol(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		return true
	}
	return false
}

// hasEncodingIssue detects a U+FFFD replacement character, a raw control
// character outside tab/newline, or the classic double-encoded-UTF-8
// mojibake signature (a 0xC3 lead byte followed by a 0x80-0xBF
// continuation byte, itself preceded by another 0xC3).
func hasEncodingIssue(s string) bool {
	if strings.ContainsRune(s, '�') {
		return true
	}
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}

	raw := []byte(s)
	for i := 0; i+2 < len(raw); i++ {
		if raw[i] == 0xC3 && raw[i+1] == 0xC3 && raw[i+2] >= 0x80 && raw[i+2] <= 0xBF {
			return true
		}
	}
	return false
}
