package parsers

import "strings"

// cosmeticDelimiters mark element-hiding, scriptlet and HTML filters.
var cosmeticDelimiters = []string{
	"##", "#@#", "#?#", "#@?#", "#$#", "#@$#", "#%#", "#@%#", "$$",
}

// dangerousSubstrings are matched against the lowercased line. Encoded forms
// are listed literally; nothing is decoded before scanning.
var dangerousSubstrings = []string{
	"<script", "</script", "<iframe", "<object", "<embed", "<svg",
	"javascript:", "vbscript:", "data:",
	"onerror=", "onload=", "eval(",
	"{{", "}}", "${", "<%", "%>",
	"%3cscript", "%3c/script", "%3c%2fscript", "%3ciframe",
	"javascript%3a", "vbscript%3a", "data%3a",
	"%7b%7b", "%7d%7d", "%24%7b", "%3c%25", "%25%3e",
}

// dangerousBase64 are base64 forms of "<script", "javascript:" and "data:",
// matched case-sensitively against the raw line.
var dangerousBase64 = []string{
	"PHNjcmlwd", "amF2YXNjcmlwdDo", "ZGF0YTo",
}

func hasCosmeticDelimiter(line string) bool {
	for _, d := range cosmeticDelimiters {
		if strings.Contains(line, d) {
			return true
		}
	}
	return false
}

// dangerousMatch returns the first deny-listed substring found in line.
func dangerousMatch(line string) (string, bool) {
	lower := strings.ToLower(line)
	for _, s := range dangerousSubstrings {
		if strings.Contains(lower, s) {
			return s, true
		}
	}
	for _, s := range dangerousBase64 {
		if strings.Contains(line, s) {
			return s, true
		}
	}
	return "", false
}

// hasControlChar reports any C0 or C1 control character or DEL.
func hasControlChar(s string) bool {
	for _, r := range s {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return true
		}
	}
	return false
}
