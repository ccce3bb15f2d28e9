package upload

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// SplitName derives first/last name from a single full-name field: a
// comma splits "Last, First"; otherwise a single token
// becomes both first and last; two tokens are first/last; three or more
// tokens take the first token as first name and the remainder as last
// name. ALLCAPS tokens of three or more letters are title-cased.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}

	if idx := strings.Index(full, ","); idx >= 0 {
		last = strings.TrimSpace(full[:idx])
		first = strings.TrimSpace(full[idx+1:])
		return titleCaseToken(first), titleCaseToken(last)
	}

	tokens := strings.Fields(full)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		t := titleCaseToken(tokens[0])
		return t, t
	case 2:
		return titleCaseToken(tokens[0]), titleCaseToken(tokens[1])
	default:
		return titleCaseToken(tokens[0]), titleCaseToken(strings.Join(tokens[1:], " "))
	}
}

// titleCaseToken title-cases each ALLCAPS word of at least 3 characters
// in s, leaving mixed-case words untouched.
func titleCaseToken(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len([]rune(w)) >= 3 && w == strings.ToUpper(w) {
			words[i] = titleCaser.String(strings.ToLower(w))
		}
	}
	return strings.Join(words, " ")
}
