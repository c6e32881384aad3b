package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases raw, keeps only Latin letters (including the
// accented range à–ú) and whitespace, collapses whitespace runs to a single
// space and trims the result.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	// Compose first so "e" + U+0301 becomes "é" instead of losing the accent.
	lowered := strings.ToLower(norm.NFC.String(raw))

	var b strings.Builder
	b.Grow(len(lowered))
	pendingSpace := false
	for _, r := range lowered {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case keep(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeAny is Normalize for values of unknown shape. Anything that is
// not a string (or *string) normalizes to "".
func NormalizeAny(v any) string {
	switch s := v.(type) {
	case string:
		return Normalize(s)
	case *string:
		if s == nil {
			return ""
		}
		return Normalize(*s)
	default:
		return ""
	}
}

func keep(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'à' && r <= 'ú')
}
