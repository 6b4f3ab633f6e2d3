package idspace

import "errors"

var (
	// ErrRangeExhausted means every id of the range is in use. Allocation
	// never spills into a neighboring range.
	ErrRangeExhausted = errors.New("id range exhausted")
	// ErrUnknownRange names a range that is not configured.
	ErrUnknownRange = errors.New("unknown id range")
	// ErrOutOfRange is returned for ids outside the range they were passed with.
	ErrOutOfRange = errors.New("rule id outside range")
	// ErrEngineUpdate wraps failures of the rule engine.
	ErrEngineUpdate = errors.New("rule engine update failed")
	// ErrInProgress is returned when a named operation is already running.
	ErrInProgress = errors.New("operation already in progress")
)
