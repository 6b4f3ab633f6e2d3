package domain

import "fmt"

// PatternType is the syntactic form of a filter pattern.
type PatternType uint8

const (
	// PatternDomainAnchor is "||domain^": the domain and its subdomains.
	PatternDomainAnchor PatternType = iota
	// PatternURLAnchor is "|http://..." or "|https://...": a URL prefix.
	PatternURLAnchor
	// PatternWildcard is any other substring pattern, "*" matching anything.
	PatternWildcard
)

// String returns a stable string representation of the pattern type.
func (p PatternType) String() string {
	switch p {
	case PatternDomainAnchor:
		return "domain_anchor"
	case PatternURLAnchor:
		return "url_anchor"
	case PatternWildcard:
		return "wildcard"
	default:
		return fmt.Sprintf("PatternType(%d)", p)
	}
}

// OptionKind identifies a "$" modifier family.
type OptionKind uint8

const (
	OptionResourceType OptionKind = iota
	OptionDomainList
	OptionParty
	OptionMatchCase
)

func (k OptionKind) String() string {
	switch k {
	case OptionResourceType:
		return "resource_type"
	case OptionDomainList:
		return "domain_list"
	case OptionParty:
		return "party"
	case OptionMatchCase:
		return "match_case"
	default:
		return fmt.Sprintf("OptionKind(%d)", k)
	}
}

// DomainRef is one entry of a "domain=" list.
type DomainRef struct {
	Name    string
	Negated bool
}

// Option is one parsed "$" modifier.
//
// Value holds the resource type for OptionResourceType and "third-party" or
// "first-party" for OptionParty. Domains is only set for OptionDomainList.
type Option struct {
	Kind    OptionKind
	Negated bool
	Value   string
	Domains []DomainRef
}

// ParsedRule is the typed form of one accepted filter line.
type ParsedRule struct {
	PatternType PatternType
	Pattern     string // domain for domain anchors, the URL filter text otherwise
	Options     []Option
	IsException bool
	SourceText  string
}

// ResourceTypes splits the resource-type options into included and excluded types.
func (r ParsedRule) ResourceTypes() (include, exclude []ResourceType) {
	for _, o := range r.Options {
		if o.Kind != OptionResourceType {
			continue
		}
		if o.Negated {
			exclude = append(exclude, ResourceType(o.Value))
		} else {
			include = append(include, ResourceType(o.Value))
		}
	}
	return include, exclude
}

// InitiatorDomains flattens every domain= option into included and excluded names.
func (r ParsedRule) InitiatorDomains() (include, exclude []string) {
	for _, o := range r.Options {
		if o.Kind != OptionDomainList {
			continue
		}
		for _, d := range o.Domains {
			if d.Negated {
				exclude = append(exclude, d.Name)
			} else {
				include = append(include, d.Name)
			}
		}
	}
	return include, exclude
}

// ThirdParty reports the party restriction: nil for none, true for
// third-party only, false for first-party only. The last party option wins.
func (r ParsedRule) ThirdParty() *bool {
	var out *bool
	for _, o := range r.Options {
		if o.Kind != OptionParty {
			continue
		}
		v := o.Value == "third-party"
		if o.Negated {
			v = !v
		}
		out = &v
	}
	return out
}

// MatchCase reports whether the rule asked for case-sensitive URL matching.
func (r ParsedRule) MatchCase() bool {
	for _, o := range r.Options {
		if o.Kind == OptionMatchCase && !o.Negated {
			return true
		}
	}
	return false
}
