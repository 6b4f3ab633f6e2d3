package utils

import "strings"

// CanonicalDNSName lowercases a host name, trims surrounding space and drops
// any trailing dots, so "Ads.Example.COM." and "ads.example.com" compare equal
// in rules, tracking records and site lists.
func CanonicalDNSName(name string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(name)), ".")
}
