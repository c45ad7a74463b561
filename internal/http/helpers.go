package http

import (
	"strings"
	"unicode"
)

// HeaderIdempotencyKey lets clients retry a mutation safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// sanitizeInput removes control characters except tab and newlines, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// idempotencyKey returns the sanitized header value, or "" when absent or unusable.
func idempotencyKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIdempotencyKeyLen {
		return ""
	}
	for _, r := range raw {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return ""
		}
	}
	return raw
}
