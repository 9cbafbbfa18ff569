package media

import (
	"strings"
	"unicode"
)

// SanitizeName strips control characters from s, replaces anything outside
// a conservative filename alphabet with '_' and truncates to maxLen runes.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case strings.ContainsRune(" -_.,()", r):
			return r
		default:
			return '_'
		}
	}, s))

	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

// slug turns a display name into a storage-safe stem without spaces.
func slug(name string) string {
	s := SanitizeName(name, 60)
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ',' || r == '(' || r == ')' {
			return '-'
		}
		return r
	}, s)
	s = strings.Trim(s, "-._")
	if s == "" {
		return "asset"
	}
	return s
}
