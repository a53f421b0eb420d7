// Package logsanitize cleans values that come from remote peers or the
// directory before they are written to logs.
package logsanitize

import (
	"strings"
	"unicode/utf8"
)

// MaxLen is the number of runes kept by Sanitize.
const MaxLen = 256

// Sanitize replaces control characters (C0 except tab, DEL, C1) with '_'
// and truncates the result to MaxLen runes (CWE-117).
func Sanitize(s string) string {
	if utf8.RuneCountInString(s) > MaxLen {
		runes := []rune(s)
		s = string(runes[:MaxLen]) + "..."
	}
	return strings.Map(replaceControl, s)
}

func replaceControl(r rune) rune {
	switch {
	case r == '\t':
		return r
	case r < 0x20, r >= 0x7f && r <= 0x9f:
		return '_'
	default:
		return r
	}
}
