package heuristic

import (
	"net/url"
	"strings"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// urlKeywords mark tracking endpoints when they appear in the URL path or query.
var urlKeywords = []string{
	"track", "analytics", "pixel", "beacon", "telemetry", "collect",
	"metrics", "stats", "fingerprint", "impression", "/event",
}

// trackingParams are query parameter names, or prefixes ending in "_", used
// to carry identifiers or campaign data.
var trackingParams = []string{
	"utm_", "fbclid", "gclid", "dclid", "msclkid", "mc_eid", "_ga", "_gl",
	"uid", "cid", "visitor_id", "client_id", "session_id", "device_id",
}

// suspiciousResources are request types that carry no page content.
var suspiciousResources = map[string]struct{}{
	string(domain.ResourcePing):      {},
	"beacon":                         {},
	string(domain.ResourceCSPReport): {},
}

// suspiciousHeaders carry identity across sites.
var suspiciousHeaders = map[string]struct{}{
	"cookie":         {},
	"x-device-id":    {},
	"x-tracking-id":  {},
	"x-visitor-id":   {},
	"x-client-id":    {},
	"x-fingerprint":  {},
	"x-analytics-id": {},
}

// classify returns the indicators present on one request.
func classify(ev domain.RequestEvent) []domain.Indicator {
	var out []domain.Indicator
	u, err := url.Parse(ev.URL)
	if err == nil {
		tail := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
		for _, kw := range urlKeywords {
			if strings.Contains(tail, kw) {
				out = append(out, domain.IndicatorURLKeyword)
				break
			}
		}
		if hasTrackingParam(u.Query()) {
			out = append(out, domain.IndicatorTrackingParam)
		}
	}
	if _, ok := suspiciousResources[strings.ToLower(ev.ResourceType)]; ok {
		out = append(out, domain.IndicatorSuspiciousResource)
	}
	for name := range ev.Headers {
		if _, ok := suspiciousHeaders[strings.ToLower(name)]; ok {
			out = append(out, domain.IndicatorSuspiciousHeader)
			break
		}
	}
	return out
}

func hasTrackingParam(q url.Values) bool {
	for name := range q {
		name = strings.ToLower(name)
		for _, p := range trackingParams {
			if strings.HasSuffix(p, "_") {
				if strings.HasPrefix(name, p) {
					return true
				}
			} else if name == p {
				return true
			}
		}
	}
	return false
}
