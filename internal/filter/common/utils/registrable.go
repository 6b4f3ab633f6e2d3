package utils

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the eTLD+1 of name ("ads.tracker.co.uk" ->
// "tracker.co.uk"). IP literals are returned unchanged. ok is false when no
// registrable domain can be derived (empty input, bare public suffix, single label).
func RegistrableDomain(name string) (string, bool) {
	name = CanonicalDNSName(name)
	if name == "" {
		return "", false
	}
	if ip := net.ParseIP(strings.Trim(name, "[]")); ip != nil {
		return ip.String(), true
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return "", false
	}
	return apex, true
}

// HostFromURL extracts the canonical host of a URL or origin string
// ("https://Sub.Example.com:8443/x" -> "sub.example.com").
func HostFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := CanonicalDNSName(u.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// SiteOf resolves a URL or origin straight to its registrable domain.
func SiteOf(raw string) (string, bool) {
	host, ok := HostFromURL(raw)
	if !ok {
		return "", false
	}
	return RegistrableDomain(host)
}
