package parse

import (
	"strings"

	"github.com/rivo/uniseg"
)

// IsEmoji reports whether s is exactly one grapheme cluster that starts
// with a pictographic code point. ZWJ sequences, skin-tone modifiers and
// flags are single clusters, so "👩‍💻" and "🇨🇦" qualify.
func IsEmoji(s string) bool {
	if s == "" {
		return false
	}
	cluster, rest, _, _ := uniseg.FirstGraphemeClusterInString(s, -1)
	if rest != "" {
		return false
	}
	r := []rune(cluster)[0]
	return isPictographic(r)
}

// IsShortcode reports whether s looks like a ":name:" emoji alias.
func IsShortcode(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, ":") && strings.HasSuffix(s, ":") && !strings.ContainsAny(s[1:len(s)-1], ": ")
}

func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // symbols, pictographs, emoticons, flags
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2300 && r <= 0x23FF: // misc technical (⌚ ⏰)
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows (⬆ ⭐)
		return true
	case r >= 0x2190 && r <= 0x21FF:
		return true
	}
	switch r {
	case 0x00A9, 0x00AE, 0x203C, 0x2049, 0x2122, 0x2139, 0x24C2, 0x3030, 0x303D, 0x3297, 0x3299:
		return true
	}
	return false
}
