package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// searchMatch implements the search() SQL function. It reports whether
// value contains any whitespace-separated term of terms, comparing
// case-folded words. A term ending in '*' matches any word it prefixes.
//
// value is untyped because SQLite may call the function with non-text
// elements of a JSON array.
func searchMatch(value any, terms string) bool {
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return false
	}

	words := tokenize(text)
	if len(words) == 0 {
		return false
	}
	for _, raw := range strings.Fields(terms) {
		prefix := strings.HasSuffix(raw, "*")
		for _, term := range tokenize(strings.TrimRight(raw, "*")) {
			for _, w := range words {
				if w == term || (prefix && strings.HasPrefix(w, term)) {
					return true
				}
			}
		}
	}
	return false
}

// tokenize case-folds s and splits it into words of letters and digits.
func tokenize(s string) []string {
	folded := cases.Fold().String(s)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
