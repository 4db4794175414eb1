// Package ocrtext normalizes and truncates OCR output before it is
// accepted as a per-image result. Normalization always runs before
// truncation.
package ocrtext

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxBytes is the default truncation cap (50 KiB).
const DefaultMaxBytes = 51200

// Normalize strips NULs, folds CRLF/CR to LF, collapses runs of 3+
// newlines to exactly two, trims each line and collapses intra-line
// runs of spaces to one, then trims the whole result.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = collapseBlankRuns(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = collapseSpaces(strings.TrimSpace(line))
	}
	text = strings.Join(lines, "\n")

	return strings.TrimSpace(text)
}

// collapseBlankRuns folds runs of 3 or more consecutive newlines down to
// exactly two (one blank line).
func collapseBlankRuns(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	run := 0
	for _, r := range text {
		if r == '\n' {
			run++
			continue
		}
		if run > 0 {
			if run >= 3 {
				run = 2
			}
			for i := 0; i < run; i++ {
				b.WriteByte('\n')
			}
			run = 0
		}
		b.WriteRune(r)
	}
	if run > 0 {
		if run >= 3 {
			run = 2
		}
		for i := 0; i < run; i++ {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// collapseSpaces folds runs of ASCII spaces within a single line to one.
func collapseSpaces(line string) string {
	var b strings.Builder
	b.Grow(len(line))

	spaceRun := false
	for _, r := range line {
		if r == ' ' {
			if spaceRun {
				continue
			}
			spaceRun = true
		} else {
			spaceRun = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Truncate caps text to maxBytes, backing off byte-by-byte until the
// result is valid UTF-8. Returns the (possibly unchanged) text and
// whether truncation occurred.
func Truncate(text string, maxBytes int) (string, bool) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if len(text) <= maxBytes {
		return text, false
	}

	cut := text[:maxBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut, true
}

// ByteLen returns the UTF-8 byte length of s.
func ByteLen(s string) int {
	return len(s)
}
