// Package activation installs whole rule sets into their id ranges: the
// compiled bulk list and the allow rules of user-disabled sites.
package activation

import (
	"context"
	"fmt"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/services/idspace"
	"github.com/haukened/rr-filter/internal/filter/services/validator"
)

// OpActivate is the guarded operation name of Activate.
const OpActivate = "recompute-ruleset"

// ActivatorOptions configures an Activator.
type ActivatorOptions struct {
	Space     IDSpace
	Validator Validator
	Guard     Guard
	Logger    log.Logger
	// Range receives the rules. Defaults to domain.RangeBulk.
	Range string
}

// Activator replaces the bulk range with a compiled ruleset.
type Activator struct {
	space     IDSpace
	validator Validator
	guard     Guard
	logger    log.Logger
	rng       string
}

// NewActivator returns an Activator.
func NewActivator(opts ActivatorOptions) *Activator {
	a := &Activator{
		space:     opts.Space,
		validator: opts.Validator,
		guard:     opts.Guard,
		logger:    opts.Logger,
		rng:       opts.Range,
	}
	if a.logger == nil {
		a.logger = log.NewNoopLogger()
	}
	if a.guard == nil {
		a.guard = idspace.NewOpGuard(a.logger)
	}
	if a.rng == "" {
		a.rng = domain.RangeBulk
	}
	return a
}

// Activate validates rs, renumbers it from the start of the range in order
// and swaps it in with one ClearRange. An invalid ruleset changes nothing
// and its report is returned with the error.
func (a *Activator) Activate(ctx context.Context, rs domain.Ruleset) (validator.Report, error) {
	var rep validator.Report
	err := a.guard.TryRun(ctx, OpActivate, func(ctx context.Context) error {
		var err error
		rep, err = a.validator.Validate(ctx, rs)
		if err != nil {
			return err
		}
		if !rep.IsValid {
			a.logger.Warn(map[string]any{"errors": len(rep.Errors)}, "activation_rejected")
			return rep.Err()
		}
		rng, err := a.space.Range(a.rng)
		if err != nil {
			return err
		}
		if len(rs) > rng.Size() {
			return fmt.Errorf("%w: %d rules do not fit %s", idspace.ErrRangeExhausted, len(rs), rng)
		}
		renumbered := Renumber(rs, rng.Start)
		removed, err := a.space.ClearRange(ctx, a.rng, renumbered)
		if err != nil {
			return err
		}
		a.logger.Info(map[string]any{"range": rng.Name, "rules": len(renumbered), "replaced": removed}, "ruleset_activated")
		return nil
	})
	return rep, err
}

// Renumber returns a copy of rs with ids assigned sequentially from start.
func Renumber(rs domain.Ruleset, start int) domain.Ruleset {
	out := make(domain.Ruleset, len(rs))
	for i, r := range rs {
		r.ID = start + i
		out[i] = r
	}
	return out
}
