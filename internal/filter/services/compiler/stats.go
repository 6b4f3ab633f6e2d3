package compiler

// ReasonRuleLimit is recorded for rules dropped because the ruleset is full.
const ReasonRuleLimit = "rule limit exceeded"

// ReasonNoResourceTypes is recorded when negated modifiers remove every resource type.
const ReasonNoResourceTypes = "no resource types left"

// maxDetailRuleLength caps the rule text kept in an error entry.
const maxDetailRuleLength = 256

// ErrorDetail describes one line that produced no rule.
type ErrorDetail struct {
	Line   int    `json:"line" yaml:"line"`
	Rule   string `json:"rule" yaml:"rule"`
	Reason string `json:"reason" yaml:"reason"`
}

// Stats summarizes one compile.
type Stats struct {
	TotalLines     int           `json:"totalLines" yaml:"total_lines"`
	ProcessedRules int           `json:"processedRules" yaml:"processed_rules"`
	Duplicates     int           `json:"duplicates" yaml:"duplicates"`
	Errors         int           `json:"errors" yaml:"errors"`
	Comments       int           `json:"comments" yaml:"comments"`
	ErrorDetails   []ErrorDetail `json:"errorDetails,omitempty" yaml:"error_details,omitempty"`
}

func (s *Stats) addError(line int, rule, reason string) {
	if len(rule) > maxDetailRuleLength {
		rule = rule[:maxDetailRuleLength]
	}
	s.Errors++
	s.ErrorDetails = append(s.ErrorDetails, ErrorDetail{Line: line, Rule: rule, Reason: reason})
}
