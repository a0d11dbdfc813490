package engine

import (
	"strings"
	"unicode"
)

// MinimumShouldMatchPercent is the share of query terms a chunk must contain
// to be a lexical match.
const MinimumShouldMatchPercent = 80

// QueryTerms lowercases the query and splits it into distinct alphanumeric
// terms in first-seen order. Only letters and digits survive, so each term
// is safe inside a tsquery.
func QueryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// MinimumShouldMatch rounds the percentage down, with at least one term
// required.
func MinimumShouldMatch(terms int) int {
	if terms <= 0 {
		return 0
	}
	n := terms * MinimumShouldMatchPercent / 100
	if n < 1 {
		n = 1
	}
	return n
}

// AnyOf builds a tsquery matching any of terms.
func AnyOf(terms []string) string {
	return strings.Join(terms, " | ")
}
