package textutil

import (
	"strings"
	"unicode"
)

// SanitizeToken maps value to a lowercase token safe for file names.
// ASCII letters, digits, '-' and '_' are kept; every other rune becomes '_'.
// Leading and trailing separators are trimmed and an empty result becomes
// "unknown".
func SanitizeToken(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

// Slug is SanitizeToken truncated to at most max bytes, for names that embed
// free text such as a search query.
func Slug(value string, max int) string {
	out := SanitizeToken(value)
	if max > 0 && len(out) > max {
		out = strings.TrimRight(out[:max], "_-")
	}
	if out == "" {
		return "unknown"
	}
	return out
}
