package metrics

import (
	"strings"
	"unicode"
)

var outcomeLabels = map[string]string{
	"success":         "Success",
	"timeout":         "Timed out",
	"connection_lost": "Connection lost",
	"protocol_error":  "Broker or protocol error",
	"cancelled":       "Cancelled",
}

// OutcomeLabel returns a human-friendly label for an outcome tag.
func OutcomeLabel(outcome string) string {
	cleaned := strings.TrimSpace(outcome)
	if cleaned == "" {
		return "Unknown outcome"
	}
	if label, ok := outcomeLabels[cleaned]; ok {
		return label
	}
	words := strings.FieldsFunc(cleaned, func(r rune) bool { return r == '_' || r == '-' })
	if len(words) == 0 {
		return "Unknown outcome"
	}
	runes := []rune(strings.ToLower(strings.Join(words, " ")))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
