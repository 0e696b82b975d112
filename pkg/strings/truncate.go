// Package strings has small text helpers for warden's table output.
package strings

import (
	"strings"
)

// DefaultCellWidth is the default maximum width for free-text table cells
// such as account labels and last-error messages.
const DefaultCellWidth = 60

// MinTruncateLen is the smallest usable maxLen for Truncate. Anything
// shorter leaves no room for content plus "...".
const MinTruncateLen = 4

// Truncate flattens s to a single line and truncates it to maxLen runes,
// appending "..." when content was dropped. Newlines and runs of whitespace
// collapse to single spaces so provider error messages render as one table
// cell.
//
// Slicing is rune-based, so multi-byte characters are never split. A maxLen
// below MinTruncateLen is clamped up to it.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// Redact masks a secret for display, keeping only the last four runes.
// Secrets of eight runes or fewer are fully masked so that most of a short
// secret is never echoed.
func Redact(secret string) string {
	runes := []rune(secret)
	if len(runes) == 0 {
		return ""
	}
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return "****" + string(runes[len(runes)-4:])
}
