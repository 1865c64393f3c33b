package enrich

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxStoredResponseBytes caps how much captured content is persisted.
const maxStoredResponseBytes = 100_000

// Sanitize turns raw captured content into a safe storage form: invalid
// UTF-8 and control characters are dropped, runs of whitespace collapse, and
// the result is capped without splitting runes.
func Sanitize(raw string) string {
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastSpace := false
	for _, r := range raw {
		switch {
		case r == '\n':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return truncateString(strings.TrimSpace(b.String()), maxStoredResponseBytes)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
