package domain

// Hard limits of the host declarative rule engine. Configuration may lower
// them but never raise them.
const (
	// MaxRulesCount bounds the number of rules in one ruleset.
	MaxRulesCount = 30000
	// MaxRuleID is the largest rule id the engine accepts.
	MaxRuleID = 99999
	// MaxPriority is the largest rule priority the engine accepts.
	MaxPriority = 1000
	// MaxLineLength bounds a filter line and any urlFilter, in bytes.
	MaxLineLength = 2048
)

// Priorities assigned by the compiler. Exceptions always outrank blocks.
const (
	BlockPriority = 1
	AllowPriority = 2
)
