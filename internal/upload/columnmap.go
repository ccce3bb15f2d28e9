package upload

import "strings"

// synonyms is the closed alias table the column mapper matches against,
// case-insensitively with whitespace/punctuation collapsed. Roughly 40
// aliases are spread across the mandatory canonical fields plus the
// optional enrichment fields components further down the pipeline use.
var synonyms = map[string][]string{
	"iban": {
		"iban", "iban number", "account iban", "bank iban", "iban no",
		"debtor iban", "account number iban",
	},
	"first_name": {
		"first name", "firstname", "given name", "forename", "first",
	},
	"last_name": {
		"last name", "lastname", "surname", "family name", "last",
	},
	"name": {
		"name", "full name", "fullname", "account holder", "account holder name",
		"debtor name", "customer name",
	},
	"email": {
		"email", "e-mail", "email address", "mail", "contact email",
	},
	"phone": {
		"phone", "phone number", "telephone", "mobile", "contact number",
	},
	"amount": {
		"amount", "charge amount", "amount due", "total", "total amount",
		"invoice amount", "debt amount",
	},
	"currency": {
		"currency", "curr", "ccy",
	},
	"country": {
		"country", "country code", "nation",
	},
	"birth_date": {
		"birth date", "birthdate", "date of birth", "dob",
	},
	"bic": {
		"bic", "swift", "swift code", "bic code",
	},
	"external_reference": {
		"external reference", "reference", "ref", "external ref", "order id",
		"invoice number", "invoice no",
	},
}

// canonicalFields lists the canonical field names in a stable order, for
// callers that want a deterministic iteration.
var canonicalFields = []string{
	"iban", "first_name", "last_name", "name", "email", "phone", "amount",
	"currency", "country", "birth_date", "bic", "external_reference",
}

// normalizeHeader lowercases, trims, and collapses internal whitespace and
// underscores so "IBAN Number", "iban_number", and "iban number" compare
// equal.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	h = strings.ReplaceAll(h, "-", " ")
	fields := strings.Fields(h)
	return strings.Join(fields, " ")
}

// BuildColumnMapping matches each spreadsheet header against the closed
// synonym table and returns header -> canonical field. Headers with no
// match are omitted.
func BuildColumnMapping(headers []string) map[string]string {
	normalizedSynonyms := make(map[string]string, len(synonyms)*4)
	for canonical, aliases := range synonyms {
		normalizedSynonyms[normalizeHeader(canonical)] = canonical
		for _, alias := range aliases {
			normalizedSynonyms[normalizeHeader(alias)] = canonical
		}
	}

	mapping := make(map[string]string, len(headers))
	for _, header := range headers {
		if canonical, ok := normalizedSynonyms[normalizeHeader(header)]; ok {
			mapping[header] = canonical
		}
	}
	return mapping
}
