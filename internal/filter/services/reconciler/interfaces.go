package reconciler

import (
	"context"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// IDSpace is the part of idspace.Space the reconciler uses.
type IDSpace interface {
	Range(name string) (domain.IDRange, error)
	Add(ctx context.Context, name string, build func(id int) domain.CompiledRule) (domain.CompiledRule, error)
	Remove(ctx context.Context, name string, ids []int) (int, error)
	ClearRange(ctx context.Context, name string, replacement []domain.CompiledRule) (int, error)
	Active(ctx context.Context, name string) ([]domain.CompiledRule, error)
}

// Guard runs named operations one at a time.
type Guard interface {
	TryRun(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Recorder counts reconcile results per decision kind.
type Recorder interface {
	ObserveReconcile(kind, result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReconcile(string, string) {}
