package cryptoutil

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizedRunes bounds how much of an oversized input sanitize will bother processing; anything past this is
// truncated before the HTML strip runs, not after, so a malicious caller cannot force work proportional to an
// unbounded payload.
const maxSanitizedRunes = 20000

var sanitizePolicy = bluemonday.StrictPolicy()

// Sanitize strips all HTML/script content from text and clamps it to maxLen runes. Its one caller is the HTTP
// message edit path, which applies it to unencrypted replacement content before storage.
func Sanitize(text string, maxLen int) string {
	if maxLen <= 0 || maxLen > maxSanitizedRunes {
		maxLen = maxSanitizedRunes
	}

	text = truncateRunes(text, maxLen)
	clean := sanitizePolicy.Sanitize(text)
	return strings.TrimSpace(clean)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
