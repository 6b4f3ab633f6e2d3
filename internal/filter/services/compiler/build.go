package compiler

import (
	"errors"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

var errNoResourceTypes = errors.New(ReasonNoResourceTypes)

// dedupKey is the normalized pattern text plus the exception flag. Options
// are not part of the key, so the first occurrence of a pattern wins.
func dedupKey(r domain.ParsedRule) string {
	var pattern string
	switch r.PatternType {
	case domain.PatternDomainAnchor:
		pattern = "||" + r.Pattern + "^"
	default:
		pattern = r.Pattern
	}
	if r.IsException {
		return "@@" + pattern
	}
	return pattern
}

// buildRule converts a parsed rule into the engine schema under id.
func buildRule(r domain.ParsedRule, id int) (domain.CompiledRule, error) {
	out := domain.CompiledRule{
		ID:       id,
		Priority: domain.BlockPriority,
		Action:   domain.Action{Type: domain.ActionBlock},
	}
	if r.IsException {
		out.Priority = domain.AllowPriority
		out.Action.Type = domain.ActionAllow
	}

	switch r.PatternType {
	case domain.PatternDomainAnchor:
		out.Condition.RequestDomains = []string{r.Pattern}
	default:
		out.Condition.URLFilter = r.Pattern
		if r.MatchCase() {
			t := true
			out.Condition.IsURLFilterCaseSensitive = &t
		}
	}

	types, err := resolveResourceTypes(r)
	if err != nil {
		return domain.CompiledRule{}, err
	}
	out.Condition.ResourceTypes = types

	include, exclude := r.InitiatorDomains()
	out.Condition.InitiatorDomains = include
	out.Condition.ExcludedInitiatorDomains = exclude

	if tp := r.ThirdParty(); tp != nil {
		if *tp {
			out.Condition.DomainType = domain.DomainTypeThirdParty
		} else {
			out.Condition.DomainType = domain.DomainTypeFirstParty
		}
	}
	return out, nil
}

// resolveResourceTypes starts from the positive modifiers, or the default set
// when there are none, and removes every negated type.
func resolveResourceTypes(r domain.ParsedRule) ([]domain.ResourceType, error) {
	include, exclude := r.ResourceTypes()
	base := include
	if len(base) == 0 {
		base = domain.DefaultResourceTypes
	}
	drop := make(map[domain.ResourceType]struct{}, len(exclude))
	for _, t := range exclude {
		drop[t] = struct{}{}
	}
	seen := make(map[domain.ResourceType]struct{}, len(base))
	out := make([]domain.ResourceType, 0, len(base))
	for _, t := range base {
		if _, ok := drop[t]; ok {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errNoResourceTypes
	}
	return out, nil
}
