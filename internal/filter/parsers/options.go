package parsers

import (
	"strings"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// resourceTypeAliases maps filter-list modifier names to engine resource types.
var resourceTypeAliases = map[string]domain.ResourceType{
	"script":         domain.ResourceScript,
	"image":          domain.ResourceImage,
	"stylesheet":     domain.ResourceStylesheet,
	"xmlhttprequest": domain.ResourceXMLHTTPRequest,
	"xhr":            domain.ResourceXMLHTTPRequest,
	"subdocument":    domain.ResourceSubFrame,
	"sub_frame":      domain.ResourceSubFrame,
	"document":       domain.ResourceMainFrame,
	"main_frame":     domain.ResourceMainFrame,
	"media":          domain.ResourceMedia,
	"font":           domain.ResourceFont,
	"object":         domain.ResourceObject,
	"ping":           domain.ResourcePing,
	"websocket":      domain.ResourceWebSocket,
	"other":          domain.ResourceOther,
	"csp_report":     domain.ResourceCSPReport,
}

var partyAliases = map[string]string{
	"third-party": "third-party",
	"3p":          "third-party",
	"first-party": "first-party",
	"1p":          "first-party",
}

// parseOptions splits the text after "$" into modifiers. Any token outside
// the allow-set rejects the whole rule.
func parseOptions(raw string) ([]domain.Option, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, reject(ReasonInvalidOption, "empty modifier list")
	}
	parts := strings.Split(raw, ",")
	out := make([]domain.Option, 0, len(parts))
	for _, part := range parts {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			return nil, reject(ReasonInvalidOption, "empty modifier")
		}
		negated := strings.HasPrefix(token, "~")
		name := strings.TrimPrefix(token, "~")

		if strings.HasPrefix(name, "domain=") {
			if negated {
				return nil, reject(ReasonInvalidOption, token)
			}
			refs, err := parseDomainList(name[len("domain="):])
			if err != nil {
				return nil, err
			}
			out = append(out, domain.Option{Kind: domain.OptionDomainList, Domains: refs})
			continue
		}
		if rt, ok := resourceTypeAliases[name]; ok {
			out = append(out, domain.Option{Kind: domain.OptionResourceType, Negated: negated, Value: string(rt)})
			continue
		}
		if party, ok := partyAliases[name]; ok {
			out = append(out, domain.Option{Kind: domain.OptionParty, Negated: negated, Value: party})
			continue
		}
		if name == "match-case" {
			out = append(out, domain.Option{Kind: domain.OptionMatchCase, Negated: negated})
			continue
		}
		return nil, reject(ReasonUnknownOption, name)
	}
	return out, nil
}

// parseDomainList parses "a.com|~b.com" with the same checks as anchored domains.
func parseDomainList(raw string) ([]domain.DomainRef, error) {
	if raw == "" {
		return nil, reject(ReasonInvalidOption, "empty domain list")
	}
	entries := strings.Split(raw, "|")
	refs := make([]domain.DomainRef, 0, len(entries))
	for _, e := range entries {
		negated := strings.HasPrefix(e, "~")
		name := normalizeDomainName(strings.TrimPrefix(e, "~"))
		if !isValidDomain(name) {
			return nil, reject(ReasonInvalidDomain, e)
		}
		refs = append(refs, domain.DomainRef{Name: name, Negated: negated})
	}
	return refs, nil
}
