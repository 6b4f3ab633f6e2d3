package domain

// ActionType is the host engine's action vocabulary.
type ActionType string

const (
	ActionBlock            ActionType = "block"
	ActionAllow            ActionType = "allow"
	ActionAllowAllRequests ActionType = "allowAllRequests"
	ActionUpgradeScheme    ActionType = "upgradeScheme"
)

// ActionTypes lists every action kind the engine accepts.
var ActionTypes = []ActionType{ActionBlock, ActionAllow, ActionAllowAllRequests, ActionUpgradeScheme}

// IsActionType reports whether s names a known action kind.
func IsActionType(s string) bool {
	for _, a := range ActionTypes {
		if string(a) == s {
			return true
		}
	}
	return false
}

// ResourceType is the host engine's resource type vocabulary.
type ResourceType string

const (
	ResourceMainFrame      ResourceType = "main_frame"
	ResourceSubFrame       ResourceType = "sub_frame"
	ResourceStylesheet     ResourceType = "stylesheet"
	ResourceScript         ResourceType = "script"
	ResourceImage          ResourceType = "image"
	ResourceFont           ResourceType = "font"
	ResourceObject         ResourceType = "object"
	ResourceXMLHTTPRequest ResourceType = "xmlhttprequest"
	ResourcePing           ResourceType = "ping"
	ResourceCSPReport      ResourceType = "csp_report"
	ResourceMedia          ResourceType = "media"
	ResourceWebSocket      ResourceType = "websocket"
	ResourceWebTransport   ResourceType = "webtransport"
	ResourceWebBundle      ResourceType = "webbundle"
	ResourceOther          ResourceType = "other"
)

// ResourceTypes lists every resource type the engine accepts.
var ResourceTypes = []ResourceType{
	ResourceMainFrame, ResourceSubFrame, ResourceStylesheet, ResourceScript,
	ResourceImage, ResourceFont, ResourceObject, ResourceXMLHTTPRequest,
	ResourcePing, ResourceCSPReport, ResourceMedia, ResourceWebSocket,
	ResourceWebTransport, ResourceWebBundle, ResourceOther,
}

// DefaultResourceTypes is attached to rules that carry no resource-type
// modifier. Top-level documents are left out so a rule never blanks a page.
var DefaultResourceTypes = []ResourceType{
	ResourceSubFrame, ResourceStylesheet, ResourceScript, ResourceImage,
	ResourceFont, ResourceObject, ResourceXMLHTTPRequest, ResourcePing,
	ResourceMedia, ResourceWebSocket, ResourceOther,
}

// IsResourceType reports whether s names a known resource type.
func IsResourceType(s string) bool {
	for _, r := range ResourceTypes {
		if string(r) == s {
			return true
		}
	}
	return false
}

// Domain types accepted by condition.domainType.
const (
	DomainTypeFirstParty = "firstParty"
	DomainTypeThirdParty = "thirdParty"
)

// Action is the effect of a rule.
type Action struct {
	Type ActionType `json:"type" validate:"required,action_type"`
}

// Condition selects the traffic a rule applies to. Exactly one of URLFilter
// and RequestDomains is set on rules this module produces.
type Condition struct {
	URLFilter                string         `json:"urlFilter,omitempty" validate:"omitempty,nocontrol"`
	IsURLFilterCaseSensitive *bool          `json:"isUrlFilterCaseSensitive,omitempty"`
	RequestDomains           []string       `json:"requestDomains,omitempty" validate:"omitempty,dive,required,nocontrol"`
	InitiatorDomains         []string       `json:"initiatorDomains,omitempty" validate:"omitempty,dive,required,nocontrol"`
	ExcludedInitiatorDomains []string       `json:"excludedInitiatorDomains,omitempty" validate:"omitempty,dive,required,nocontrol"`
	ResourceTypes            []ResourceType `json:"resourceTypes,omitempty" validate:"omitempty,dive,resource_type"`
	DomainType               string         `json:"domainType,omitempty" validate:"omitempty,oneof=firstParty thirdParty"`
}

// CompiledRule is one rule in the host engine's schema.
type CompiledRule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

// Ruleset is an ordered sequence of compiled rules with pairwise distinct ids.
type Ruleset []CompiledRule

// IDs returns the rule ids in order.
func (rs Ruleset) IDs() []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
