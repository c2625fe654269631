package artifact

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// previewLength is the number of characters of input text kept in a filename.
const previewLength = 30

var timestampReplacer = strings.NewReplacer(":", "-", ".", "-")

// FileName derives the artifact name for text synthesized at now:
//
//	tts_<ISO-8601 UTC timestamp, ':' and '.' replaced by '-'>_<preview>.<format>
func FileName(now time.Time, text, format string) string {
	timestamp := timestampReplacer.Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return "tts_" + timestamp + "_" + SanitizePreview(text) + "." + format
}

// SanitizePreview keeps the first 30 characters of text and replaces every
// character that is not an ASCII letter, ASCII digit or Hangul syllable
// with '_'. Text is NFC-normalized first so decomposed Hangul is kept.
func SanitizePreview(text string) string {
	runes := []rune(norm.NFC.String(text))
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}

	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		if isPreviewRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isPreviewRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables 가..힣
		return true
	}
	return false
}
