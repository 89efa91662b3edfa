package knowledge

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

const maxQueryTerms = 8

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"but": true, "by": true, "can": true, "do": true, "does": true, "for": true, "from": true,
	"have": true, "how": true, "i": true, "in": true, "is": true, "it": true, "me": true,
	"my": true, "of": true, "on": true, "or": true, "our": true, "please": true, "so": true,
	"that": true, "the": true, "this": true, "to": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "will": true, "with": true,
	"you": true, "your": true,
}

// fold normalizes text for matching.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Terms splits a query into unique folded search terms, dropping stopwords
// and single characters.
func Terms(query string) []string {
	words := strings.FieldsFunc(fold(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}

// snippet returns a window of content around the first term occurrence.
func snippet(content string, terms []string, width int) string {
	runes := []rune(content)
	if len(runes) <= width {
		return strings.TrimSpace(content)
	}
	lower := []rune(strings.ToLower(content))

	start := 0
	for _, t := range terms {
		if i := runeIndex(lower, []rune(t)); i >= 0 {
			start = max(0, i-width/4)
			break
		}
	}
	end := min(len(runes), start+width)
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
