package parsers

import (
	"strings"
	"testing"
)

func TestNormalizeDomainName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{" Example.COM. ", "example.com"},
		{"*.example.com", "example.com"},
		{".example.com", "example.com"},
		{"", ""},
		{"*.", ""},
	}
	for _, tt := range tests {
		if got := normalizeDomainName(tt.in); got != tt.want {
			t.Errorf("normalizeDomainName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"example.com", true},
		{"a-b.example.co.uk", true},
		{"x1.y2", true},
		{"localhost", false},
		{"", false},
		{"example..com", false},
		{".example.com", false},
		{"example.com.", false},
		{"-bad.example.com", false},
		{"bad-.example.com", false},
		{"exa_mple.com", false},
		{"exa mple.com", false},
		{"exämple.com", false},
		{"example.com/path", false},
		{strings.Repeat("a", 63) + ".com", true},
		{strings.Repeat("a", 64) + ".com", false},
		{strings.Repeat("a.", 127) + "ab", false},
	}
	for _, tt := range tests {
		if got := isValidDomain(tt.name); got != tt.want {
			t.Errorf("isValidDomain(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsAlphaNumeric(t *testing.T) {
	for _, c := range []byte("azAZ09") {
		if !isAlphaNumeric(c) {
			t.Errorf("isAlphaNumeric(%q) = false", c)
		}
	}
	for _, c := range []byte(".-_ *\x00\xff") {
		if isAlphaNumeric(c) {
			t.Errorf("isAlphaNumeric(%q) = true", c)
		}
	}
}

func TestScanAllowed(t *testing.T) {
	ok, alnum := scanAllowed("/banner-ad/", wildcardPunct)
	if !ok || !alnum {
		t.Errorf("expected /banner-ad/ to pass, got ok=%v alnum=%v", ok, alnum)
	}
	ok, alnum = scanAllowed("***", wildcardPunct)
	if !ok || alnum {
		t.Errorf("expected *** to scan ok without alnum, got ok=%v alnum=%v", ok, alnum)
	}
	if ok, _ := scanAllowed("a(b)", wildcardPunct); ok {
		t.Errorf("parentheses are outside the wildcard allow-list")
	}
	if ok, _ := scanAllowed("a(b)", urlPunct); !ok {
		t.Errorf("parentheses are inside the url allow-list")
	}
}
