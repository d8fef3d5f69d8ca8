package ca

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SafeName maps a requested identity to its filesystem- and
// identifier-safe form: the input is NFKD-folded, every literal "*"
// becomes the literal string "star", and every remaining character
// outside [A-Za-z0-9-] becomes "-".
//
// The result is the sole collision key for issued certificates, so the
// same function is applied on both store and lookup. Deterministic and
// idempotent: SafeName(SafeName(s)) == SafeName(s).
func SafeName(s string) string {
	s = norm.NFKD.String(s)
	s = strings.ReplaceAll(s, "*", "star")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
