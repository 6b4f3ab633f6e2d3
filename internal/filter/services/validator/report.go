package validator

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Outcome is the overall result of a validation pass.
type Outcome string

const (
	OutcomeValid   Outcome = "valid"
	OutcomeInvalid Outcome = "invalid"
	OutcomeTimeout Outcome = "timeout"
)

// IDGap is an inclusive run of unused ids between two used ones.
type IDGap struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Stats describes the ruleset that was checked. Gaps are informational.
type Stats struct {
	TotalRules int     `json:"totalRules" yaml:"total_rules"`
	BlockRules int     `json:"blockRules" yaml:"block_rules"`
	AllowRules int     `json:"allowRules" yaml:"allow_rules"`
	OtherRules int     `json:"otherRules" yaml:"other_rules"`
	MinID      int     `json:"minId" yaml:"min_id"`
	MaxID      int     `json:"maxId" yaml:"max_id"`
	Gaps       []IDGap `json:"gaps,omitempty" yaml:"gaps,omitempty"`
}

// Report is the result of one full validation pass.
type Report struct {
	Outcome Outcome  `json:"outcome" yaml:"outcome"`
	IsValid bool     `json:"isValid" yaml:"is_valid"`
	Errors  []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Stats   Stats    `json:"stats" yaml:"stats"`
}

// Err folds the report into a single error: nil when valid, ErrTimeout on
// timeout, otherwise ErrInvalid wrapping every structural error combined.
func (r Report) Err() error {
	switch r.Outcome {
	case OutcomeValid:
		return nil
	case OutcomeTimeout:
		return ErrTimeout
	}
	var err error
	for _, msg := range r.Errors {
		err = multierr.Append(err, errors.New(msg))
	}
	if err == nil {
		return ErrInvalid
	}
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

func (r *Report) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) finish() {
	r.IsValid = len(r.Errors) == 0
	if r.IsValid {
		r.Outcome = OutcomeValid
	} else {
		r.Outcome = OutcomeInvalid
	}
}

func timeoutReport() Report {
	return Report{Outcome: OutcomeTimeout}
}
