package utils

import "testing"

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"simple domain", "example.com", "example.com", true},
		{"trailing dot", "example.com.", "example.com", true},
		{"subdomain", "www.example.com", "example.com", true},
		{"deep subdomain", "api.service.example.com", "example.com", true},
		{"co.uk domain", "www.example.co.uk", "example.co.uk", true},
		{"github.io subdomain", "subdomain.user.github.io", "user.github.io", true},
		{"ipv4 literal", "192.0.2.10", "192.0.2.10", true},
		{"ipv6 literal", "[2001:db8::1]", "2001:db8::1", true},
		{"public suffix only", "co.uk", "", false},
		{"empty string", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RegistrableDomain(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("RegistrableDomain(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestHostFromURL(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://Sub.Example.com:8443/path?q=1", "sub.example.com", true},
		{"https://example.org", "example.org", true},
		{"http://[2001:db8::1]/x", "2001:db8::1", true},
		{"not a url at all", "", false},
		{"", "", false},
		{"://bad", "", false},
	}
	for _, tt := range tests {
		got, ok := HostFromURL(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("HostFromURL(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSiteOf(t *testing.T) {
	if got, ok := SiteOf("https://cdn.tracker.example.co.uk/p.gif"); !ok || got != "example.co.uk" {
		t.Errorf("SiteOf returned (%q, %v)", got, ok)
	}
	if _, ok := SiteOf("https://localhost/"); ok {
		t.Errorf("expected single-label host to be unresolved")
	}
}
