package parsers

import (
	"strings"

	"github.com/haukened/rr-filter/internal/filter/common/utils"
)

const (
	maxLabelLength  = 63
	maxDomainLength = 253
)

// normalizeDomainName trims whitespace, drops a leading "*." or "." and
// returns the canonical lowercase name without trailing dots.
func normalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.CanonicalDNSName(name)
}

// isValidDomain checks a canonical domain name in one pass over its bytes:
//   - only ASCII letters, digits, '.' and '-'
//   - at least two labels
//   - every label 1..63 bytes, not starting or ending with '-'
//   - whole name at most 253 bytes
func isValidDomain(name string) bool {
	if len(name) == 0 || len(name) > maxDomainLength {
		return false
	}
	labels := 1
	labelLen := 0
	var prev byte
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '.':
			if labelLen == 0 || prev == '-' {
				return false
			}
			labels++
			labelLen = 0
		case c == '-':
			if labelLen == 0 {
				return false
			}
			labelLen++
		case isAlphaNumeric(c):
			labelLen++
		default:
			return false
		}
		if labelLen > maxLabelLength {
			return false
		}
		prev = c
	}
	if labelLen == 0 || prev == '-' {
		return false
	}
	return labels >= 2
}

// isAlphaNumeric reports whether c is an ASCII letter or digit.
func isAlphaNumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// urlPunct is the punctuation accepted inside URL-anchored patterns.
const urlPunct = "-._~:/?#[]@!&'()*+,;=%^"

// wildcardPunct is the narrower punctuation set accepted in substring patterns.
const wildcardPunct = "-._/*^?=&%~+"

// scanAllowed reports whether every byte of s is alphanumeric or in punct,
// and whether at least one alphanumeric byte was seen.
func scanAllowed(s, punct string) (ok, hasAlnum bool) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlphaNumeric(c) {
			hasAlnum = true
			continue
		}
		if strings.IndexByte(punct, c) < 0 {
			return false, hasAlnum
		}
	}
	return true, hasAlnum
}
