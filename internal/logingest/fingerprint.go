// Package logingest turns raw slow-statement and error log text into
// ranked SQL digests and categorized alerts.
package logingest

import (
	"strings"
	"unicode"
)

// Fingerprint canonicalizes a SQL statement for use as an aggregation key.
// Quoted literals and numeric literals collapse to "?", other characters
// are ASCII lower-cased, and whitespace runs collapse to one space.
// It is total and idempotent.
func Fingerprint(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	var quote rune
	prevSpace := false
	runes := []rune(sql)

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if quote != 0 {
			if ch == quote {
				quote = 0
				b.WriteByte('?')
				prevSpace = false
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"':
			quote = ch
		case isDigit(ch):
			b.WriteByte('?')
			for i+1 < len(runes) && (isDigit(runes[i+1]) || runes[i+1] == '.') {
				i++
			}
			prevSpace = false
		case unicode.IsSpace(ch):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(toLowerASCII(ch))
			prevSpace = false
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
