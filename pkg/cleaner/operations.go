// pkg/cleaner/operations.go
package cleaner

import (
	"strings"
	"unicode"
)

// Cleaning operation names
const (
	OpNormalizeNewlines = "normalize_newlines"
	OpStripControl      = "strip_control_chars"
	OpTrimWhitespace    = "trim_whitespace"
	OpEmptyToNull       = "empty_to_null"
)

// cleanString applies every string operation in order and returns the result
// (nil when the value ends up empty) with the names of operations that
// changed it
func cleanString(s string) (interface{}, []string) {
	var ops []string
	current := s

	if normalized := normalizeNewlines(current); normalized != current {
		ops = append(ops, OpNormalizeNewlines)
		current = normalized
	}

	if stripped := stripControl(current); stripped != current {
		ops = append(ops, OpStripControl)
		current = stripped
	}

	if trimmed := strings.TrimSpace(current); trimmed != current {
		ops = append(ops, OpTrimWhitespace)
		current = trimmed
	}

	if current == "" {
		ops = append(ops, OpEmptyToNull)
		return nil, ops
	}

	return current, ops
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// stripControl drops control characters other than newline and tab
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, s)
}
