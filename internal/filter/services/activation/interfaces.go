package activation

import (
	"context"

	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/services/validator"
)

// IDSpace is the part of idspace.Space activation uses.
type IDSpace interface {
	Range(name string) (domain.IDRange, error)
	ClearRange(ctx context.Context, name string, replacement []domain.CompiledRule) (int, error)
}

// Validator checks a ruleset before it is activated.
type Validator interface {
	Validate(ctx context.Context, rs domain.Ruleset) (validator.Report, error)
}

// Guard runs named operations one at a time.
type Guard interface {
	TryRun(ctx context.Context, name string, fn func(ctx context.Context) error) error
}
