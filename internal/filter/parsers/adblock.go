// Package parsers turns filter-list text into typed rules.
//
// Every check in this package is a single forward scan over the line or a
// fixed-substring search, so the work per line is linear in its length and
// bounded by the configured line ceiling. No regular expressions are used.
package parsers

import (
	"strings"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Options configures a Parser.
type Options struct {
	// MaxLineLength is the byte ceiling for a whole line. Values <= 0 or
	// above domain.MaxLineLength fall back to domain.MaxLineLength.
	MaxLineLength int
}

// Parser parses single filter lines. It is stateless and safe for concurrent use.
type Parser struct {
	maxLineLength int
}

// New constructs a Parser.
func New(opts Options) *Parser {
	n := opts.MaxLineLength
	if n <= 0 || n > domain.MaxLineLength {
		n = domain.MaxLineLength
	}
	return &Parser{maxLineLength: n}
}

var defaultParser = New(Options{})

// Parse parses line with the default limits.
func Parse(line string) (domain.ParsedRule, error) {
	return defaultParser.Parse(line)
}

// IsSkippable reports whether a line is blank, a "!" comment or a "[...]"
// list header, none of which are rules.
func IsSkippable(line string) bool {
	t := strings.TrimSpace(strings.TrimPrefix(line, "\uFEFF"))
	return t == "" || strings.HasPrefix(t, "!") || (strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]"))
}

// Parse turns one line into a ParsedRule. Lines that are not rules return
// ErrNotRule; lines that fail a check return a *RejectError. Parse never panics
// on malformed input, so callers can keep going through a batch.
func (p *Parser) Parse(line string) (domain.ParsedRule, error) {
	if IsSkippable(line) {
		return domain.ParsedRule{}, ErrNotRule
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(line, "\uFEFF"), "\r")
	text := strings.TrimSpace(raw)

	if len(text) > p.maxLineLength {
		return domain.ParsedRule{}, reject(ReasonTooLong, "")
	}
	if hasCosmeticDelimiter(text) {
		return domain.ParsedRule{}, reject(ReasonCosmetic, "")
	}
	if s, bad := dangerousMatch(text); bad {
		return domain.ParsedRule{}, reject(ReasonDangerous, s)
	}
	if hasControlChar(raw) {
		return domain.ParsedRule{}, reject(ReasonControlChar, "")
	}

	rule := domain.ParsedRule{SourceText: text}
	body := text
	if strings.HasPrefix(body, "@@") {
		rule.IsException = true
		body = body[2:]
	}

	if idx := strings.LastIndexByte(body, '$'); idx >= 0 {
		opts, err := parseOptions(body[idx+1:])
		if err != nil {
			return domain.ParsedRule{}, err
		}
		rule.Options = opts
		body = body[:idx]
	}
	if body == "" {
		return domain.ParsedRule{}, reject(ReasonEmptyPattern, "")
	}

	var err error
	switch {
	case strings.HasPrefix(body, "||"):
		rule.PatternType = domain.PatternDomainAnchor
		rule.Pattern, err = parseDomainAnchor(body[2:])
	case strings.HasPrefix(body, "|"):
		rule.PatternType = domain.PatternURLAnchor
		rule.Pattern, err = parseURLAnchor(body[1:])
	default:
		rule.PatternType = domain.PatternWildcard
		rule.Pattern, err = parseWildcard(body)
	}
	if err != nil {
		return domain.ParsedRule{}, err
	}
	return rule, nil
}

// parseDomainAnchor validates the text after "||": a domain with an
// optional trailing "^" separator.
func parseDomainAnchor(rest string) (string, error) {
	rest = strings.TrimSuffix(rest, "^")
	name := normalizeDomainName(rest)
	if !isValidDomain(name) {
		return "", reject(ReasonInvalidDomain, rest)
	}
	return name, nil
}

// parseURLAnchor validates the text after a single "|". It must start with an
// http or https scheme; a trailing "|" end anchor is kept.
func parseURLAnchor(rest string) (string, error) {
	lower := strings.ToLower(rest)
	var scheme string
	switch {
	case strings.HasPrefix(lower, "https://"):
		scheme = "https://"
	case strings.HasPrefix(lower, "http://"):
		scheme = "http://"
	default:
		return "", reject(ReasonInvalidURL, "missing http(s) scheme")
	}
	tail := rest[len(scheme):]
	inner := strings.TrimSuffix(tail, "|")
	if inner == "" {
		return "", reject(ReasonInvalidURL, "missing host")
	}
	if ok, hasAlnum := scanAllowed(inner, urlPunct); !ok || !hasAlnum {
		return "", reject(ReasonInvalidURL, rest)
	}
	return "|" + scheme + tail, nil
}

// parseWildcard validates a substring pattern. A trailing "|" end anchor is kept.
func parseWildcard(body string) (string, error) {
	inner := strings.TrimSuffix(body, "|")
	ok, hasAlnum := scanAllowed(inner, wildcardPunct)
	if !ok {
		return "", reject(ReasonInvalidPattern, body)
	}
	if !hasAlnum {
		return "", reject(ReasonTooBroad, body)
	}
	return body, nil
}
