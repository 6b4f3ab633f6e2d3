package idspace

import (
	"context"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// RuleEngine is the host declarative rule engine as seen by the id space.
// UpdateRules must apply the removal and the addition as one atomic change.
type RuleEngine interface {
	ActiveRules(ctx context.Context) ([]domain.CompiledRule, error)
	UpdateRules(ctx context.Context, removeIDs []int, add []domain.CompiledRule) error
}

// Recorder is told how full a range is after every change to it.
type Recorder interface {
	ObserveRangeUsage(rangeName string, used, size int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRangeUsage(string, int, int) {}
