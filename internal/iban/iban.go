// Package iban normalizes, checksum-validates, hashes, and masks IBAN
// strings, and extracts the country/bank-code prefix.
package iban

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"
)

var alnum = regexp.MustCompile(`^[A-Z0-9]+$`)

// sepaCountries is the closed ~38-code SEPA country set.
var sepaCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IS": true, "IE": true, "IT": true, "LV": true, "LI": true,
	"LT": true, "LU": true, "MT": true, "MC": true, "NL": true, "NO": true,
	"PL": true, "PT": true, "RO": true, "SM": true, "SK": true, "SI": true,
	"ES": true, "SE": true, "CH": true, "GB": true, "AD": true, "VA": true,
	"XK": true, "SJ": true,
}

// Normalize strips whitespace and uppercases an IBAN as typed by a user.
func Normalize(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, "-", "")
	return raw
}

// Valid reports whether iban (already normalized) has a valid ISO-13616
// structure and passes the mod-97 checksum.
func Valid(normalized string) bool {
	if len(normalized) < 15 || len(normalized) > 34 {
		return false
	}
	if !alnum.MatchString(normalized) {
		return false
	}
	for i, c := range normalized[:4] {
		if (i < 2 && (c < 'A' || c > 'Z')) || (i >= 2 && (c < '0' || c > '9')) {
			return false
		}
	}
	rearranged := normalized[4:] + normalized[:4]

	var numeric strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			numeric.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			numeric.WriteString(itoa(int(r-'A') + 10))
		default:
			return false
		}
	}

	n, ok := new(big.Int).SetString(numeric.String(), 10)
	if !ok {
		return false
	}
	remainder := new(big.Int).Mod(n, big.NewInt(97))
	return remainder.Int64() == 1
}

func itoa(v int) string {
	if v < 10 {
		return string(rune('0' + v))
	}
	tens := v / 10
	ones := v % 10
	return string(rune('0'+tens)) + string(rune('0'+ones))
}

// Country returns the two-letter country prefix of a normalized IBAN.
func Country(normalized string) string {
	if len(normalized) < 2 {
		return ""
	}
	return normalized[:2]
}

// IsSEPACountry reports whether code is in the closed SEPA country set.
func IsSEPACountry(code string) bool {
	return sepaCountries[strings.ToUpper(code)]
}

// Hash returns a deterministic, non-reversible SHA-256 hash of a
// normalized IBAN, used as the cross-upload account identity key.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Mask returns a display-safe IBAN: the first six characters (country
// code, check digits and two more), then asterisks, then the last four
// characters.
func Mask(normalized string) string {
	if len(normalized) <= 8 {
		return strings.Repeat("*", len(normalized))
	}
	prefix := normalized[:6]
	suffix := normalized[len(normalized)-4:]
	return prefix + strings.Repeat("*", len(normalized)-10) + suffix
}
