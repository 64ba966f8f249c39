package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate flattens s onto one line and clips it to at most maxLen bytes for
// session and recall previews. A clipped preview ends with "..." and never
// splits a multi-byte rune.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
