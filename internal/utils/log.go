package utils

import "strings"

// TruncateForLog shortens s to limit runes, appending an ellipsis when cut.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Preview flattens s to a single line and truncates it, for log fields that
// quote document or prompt text.
func Preview(s string, limit int) string {
	return TruncateForLog(strings.Join(strings.Fields(s), " "), limit)
}
