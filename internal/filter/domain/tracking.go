package domain

import (
	"fmt"
	"time"
)

// Indicator is one tracking signal observed for a third-party domain.
type Indicator string

const (
	IndicatorURLKeyword         Indicator = "url_keyword"
	IndicatorTrackingParam      Indicator = "tracking_param"
	IndicatorSuspiciousResource Indicator = "suspicious_resource"
	IndicatorSuspiciousHeader   Indicator = "suspicious_header"
	IndicatorCrossSite          Indicator = "cross_site"
)

// DomainStatus is the heuristic state of a domain. Blocked and Allowed are
// terminal for automatic evaluation.
type DomainStatus uint8

const (
	StatusUnseen DomainStatus = iota
	StatusObserved
	StatusBlocked
	StatusAllowed
)

func (s DomainStatus) String() string {
	switch s {
	case StatusUnseen:
		return "unseen"
	case StatusObserved:
		return "observed"
	case StatusBlocked:
		return "blocked"
	case StatusAllowed:
		return "allowed"
	default:
		return fmt.Sprintf("DomainStatus(%d)", s)
	}
}

// RequestEvent is one observed network request as delivered by the feed adapter.
type RequestEvent struct {
	URL             string            `json:"url"`
	ResourceType    string            `json:"resourceType"`
	InitiatorOrigin string            `json:"initiatorOrigin"`
	Timestamp       time.Time         `json:"timestamp"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// TrackingRecord accumulates statistics for one third-party domain.
//
// Sites maps each initiator site to the number of requests it made to Domain,
// so len(Sites) is the distinct-site count.
type TrackingRecord struct {
	Domain       string                 `json:"domain"`
	Sites        map[string]int         `json:"sites"`
	RequestCount int                    `json:"requestCount"`
	Score        float64                `json:"score"`
	Indicators   map[Indicator]struct{} `json:"indicators"`
	FirstSeen    time.Time              `json:"firstSeen"`
	LastSeen     time.Time              `json:"lastSeen"`
}

// NewTrackingRecord returns an empty record first seen at now.
func NewTrackingRecord(name string, now time.Time) *TrackingRecord {
	return &TrackingRecord{
		Domain:     name,
		Sites:      make(map[string]int),
		Indicators: make(map[Indicator]struct{}),
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// SiteCount is the number of distinct initiator sites.
func (r *TrackingRecord) SiteCount() int { return len(r.Sites) }

// IndicatorCount is the number of distinct indicators.
func (r *TrackingRecord) IndicatorCount() int { return len(r.Indicators) }

// HasIndicator reports whether ind was observed.
func (r *TrackingRecord) HasIndicator(ind Indicator) bool {
	_, ok := r.Indicators[ind]
	return ok
}

// DecisionKind is the direction of a BlockDecision.
type DecisionKind uint8

const (
	// DecisionBlock asks for an adaptive block rule for the domain.
	DecisionBlock DecisionKind = iota
	// DecisionUnblock asks for any adaptive block rule for the domain to be dropped.
	DecisionUnblock
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionBlock:
		return "block"
	case DecisionUnblock:
		return "unblock"
	default:
		return fmt.Sprintf("DecisionKind(%d)", k)
	}
}

// BlockDecision is an immutable record emitted by the heuristic engine when a
// domain changes decided state.
type BlockDecision struct {
	Domain string
	Kind   DecisionKind
	Score  float64
	Sites  int
	At     time.Time
}

// SessionStats is the per-initiator-site count of requests attributed as blocked.
type SessionStats struct {
	Site            string         `json:"site"`
	BlockedRequests int            `json:"blockedRequests"`
	Trackers        map[string]int `json:"trackers"`
}

// TrackingState is the persisted form of the heuristic engine: every live
// record plus the decided domains.
type TrackingState struct {
	Records []TrackingRecord `json:"records"`
	Blocked []string         `json:"blocked"`
	Allowed []string         `json:"allowed"`
	SavedAt time.Time        `json:"savedAt"`
}
