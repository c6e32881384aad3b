package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenRunes matches the conventional \b\w\w+\b token pattern:
// single-letter words are not indexed.
const minTokenRunes = 2

// Tokenize splits normalized text into index terms: maximal runs of letters
// at least two runes long, in order of appearance.
func Tokenize(clean string) []string {
	fields := strings.FieldsFunc(clean, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenRunes {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
