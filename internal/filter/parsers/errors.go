package parsers

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRule is returned for blank lines, comments and list headers.
	// Callers skip these without counting them as failures.
	ErrNotRule = errors.New("line is not a rule")
	// ErrRejected is wrapped by every RejectError.
	ErrRejected = errors.New("rule rejected")
)

// Reason classifies why a line was rejected.
type Reason string

const (
	ReasonTooLong        Reason = "too_long"
	ReasonCosmetic       Reason = "cosmetic_filter"
	ReasonDangerous      Reason = "dangerous_content"
	ReasonControlChar    Reason = "control_character"
	ReasonEmptyPattern   Reason = "empty_pattern"
	ReasonInvalidDomain  Reason = "invalid_domain"
	ReasonInvalidURL     Reason = "invalid_url_pattern"
	ReasonInvalidPattern Reason = "invalid_pattern"
	ReasonTooBroad       Reason = "pattern_too_broad"
	ReasonUnknownOption  Reason = "unknown_option"
	ReasonInvalidOption  Reason = "invalid_option"
)

// RejectError describes a line that looked like a rule but failed a check.
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rule rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rule rejected: %s: %s", e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error { return ErrRejected }

func reject(reason Reason, detail string) error {
	return &RejectError{Reason: reason, Detail: detail}
}
