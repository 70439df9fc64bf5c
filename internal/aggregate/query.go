package aggregate

import (
	"slices"
	"strings"
	"unicode"
)

// Query is a keyword expression: a set of alternative tokens. An item matches when
// any token is a case-insensitive substring of its texts.
type Query []string

// ParseQuery parses expressions such as "invoice, receipt OR refund".
// Tokens are separated by whitespace, commas, "|" and the word OR in any case.
func ParseQuery(expr string) Query {
	var q Query
	fields := strings.FieldsFunc(strings.ToLower(expr), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '|'
	})
	for _, tok := range fields {
		if tok == "or" || slices.Contains(q, tok) {
			continue
		}
		q = append(q, tok)
	}
	return q
}

// Empty reports whether the query matches everything.
func (q Query) Empty() bool {
	return len(q) == 0
}

// Match reports whether any token appears in any of texts.
func (q Query) Match(texts ...string) bool {
	if q.Empty() {
		return true
	}
	for _, t := range texts {
		if t == "" {
			continue
		}
		t = strings.ToLower(t)
		for _, tok := range q {
			if strings.Contains(t, tok) {
				return true
			}
		}
	}
	return false
}
