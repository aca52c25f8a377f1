package emitter

import (
	"unicode/utf16"
	"unicode/utf8"
)

// Length returns the size of s in UTF-16 code units, the unit Telegram's
// message limit is counted in. Characters outside the Basic Multilingual
// Plane (most emoji) count twice. Slack and Discord count characters,
// which never exceed this.
func Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// splitAt splits s after at most n UTF-16 units without breaking a
// character. If the first character alone is wider than n it is taken
// anyway.
func splitAt(s string, n int) (string, string) {
	used := 0
	for pos, r := range s {
		w := utf16.RuneLen(r)
		if used+w > n {
			if pos == 0 {
				_, size := utf8.DecodeRuneInString(s)
				return s[:size], s[size:]
			}
			return s[:pos], s[pos:]
		}
		used += w
	}
	return s, ""
}
