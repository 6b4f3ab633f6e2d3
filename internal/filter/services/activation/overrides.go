package activation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/common/utils"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/repos/kv"
	"github.com/haukened/rr-filter/internal/filter/services/idspace"
)

const (
	// OpAllowRules is the guarded operation name of Overrides.Recompute.
	OpAllowRules = "recompute-allow-rules"
	// KeyDisabledDomains holds the JSON list of sites the filter is off for.
	KeyDisabledDomains = "settings/disabled_domains"
)

// ErrInvalidSite is returned by SetDisabled for names that are not hosts.
var ErrInvalidSite = errors.New("invalid site")

// allowFrames are the resource types an allowAllRequests rule may target.
var allowFrames = []domain.ResourceType{domain.ResourceMainFrame, domain.ResourceSubFrame}

// OverridesOptions configures Overrides.
type OverridesOptions struct {
	Space  IDSpace
	Store  kv.Store
	Guard  Guard
	Logger log.Logger
	// Range receives the allow rules. Defaults to domain.RangeOverride.
	Range string
}

// Overrides keeps one allowAllRequests rule per user-disabled site.
type Overrides struct {
	space  IDSpace
	store  kv.Store
	guard  Guard
	logger log.Logger
	rng    string
}

// NewOverrides returns an Overrides.
func NewOverrides(opts OverridesOptions) *Overrides {
	o := &Overrides{
		space:  opts.Space,
		store:  opts.Store,
		guard:  opts.Guard,
		logger: opts.Logger,
		rng:    opts.Range,
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}
	if o.guard == nil {
		o.guard = idspace.NewOpGuard(o.logger)
	}
	if o.rng == "" {
		o.rng = domain.RangeOverride
	}
	return o
}

// Disabled returns the stored disabled-site list. A missing key is an
// empty list.
func (o *Overrides) Disabled(ctx context.Context) ([]string, error) {
	var sites []string
	err := kv.GetJSON(ctx, o.store, KeyDisabledDomains, &sites)
	if errors.Is(err, kv.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// SetDisabled stores sites as the disabled list and rebuilds the allow
// rules from it. A list that does not fit the range is refused before it is
// saved, and the previous list is restored when the rebuild fails.
func (o *Overrides) SetDisabled(ctx context.Context, sites []string) error {
	clean, err := normalizeSites(sites)
	if err != nil {
		return err
	}
	rng, err := o.space.Range(o.rng)
	if err != nil {
		return err
	}
	if len(clean) > rng.Size() {
		return fmt.Errorf("%w: %d sites do not fit %s", idspace.ErrRangeExhausted, len(clean), rng)
	}
	previous, err := o.Disabled(ctx)
	if err != nil {
		return err
	}
	if err := kv.SetJSON(ctx, o.store, KeyDisabledDomains, clean); err != nil {
		return fmt.Errorf("saving disabled sites: %w", err)
	}
	if err := o.Recompute(ctx); err != nil {
		if rerr := kv.SetJSON(context.WithoutCancel(ctx), o.store, KeyDisabledDomains, previous); rerr != nil {
			o.logger.Error(map[string]any{"error": rerr}, "disabled_sites_restore_failed")
			return fmt.Errorf("%w (restoring previous list: %w)", err, rerr)
		}
		return err
	}
	return nil
}

// Recompute replaces the override range with allow rules for the stored
// disabled sites.
func (o *Overrides) Recompute(ctx context.Context) error {
	return o.guard.TryRun(ctx, OpAllowRules, func(ctx context.Context) error {
		sites, err := o.Disabled(ctx)
		if err != nil {
			return err
		}
		rng, err := o.space.Range(o.rng)
		if err != nil {
			return err
		}
		if len(sites) > rng.Size() {
			return fmt.Errorf("%w: %d sites do not fit %s", idspace.ErrRangeExhausted, len(sites), rng)
		}
		rules := make([]domain.CompiledRule, len(sites))
		for i, site := range sites {
			rules[i] = allowRule(rng.Start+i, site)
		}
		if _, err := o.space.ClearRange(ctx, o.rng, rules); err != nil {
			return err
		}
		o.logger.Info(map[string]any{"range": rng.Name, "sites": len(sites)}, "allow_rules_recomputed")
		return nil
	})
}

func allowRule(id int, site string) domain.CompiledRule {
	types := make([]domain.ResourceType, len(allowFrames))
	copy(types, allowFrames)
	return domain.CompiledRule{
		ID:       id,
		Priority: domain.MaxPriority,
		Action:   domain.Action{Type: domain.ActionAllowAllRequests},
		Condition: domain.Condition{
			RequestDomains: []string{site},
			ResourceTypes:  types,
		},
	}
}

// normalizeSites canonicalizes, checks and dedupes host names, sorted.
func normalizeSites(sites []string) ([]string, error) {
	seen := make(map[string]struct{}, len(sites))
	out := make([]string, 0, len(sites))
	for _, s := range sites {
		host := utils.CanonicalDNSName(s)
		if host == "" {
			continue
		}
		if _, ok := utils.RegistrableDomain(host); !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSite, s)
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	sort.Strings(out)
	return out, nil
}
