// Package validator re-checks a compiled ruleset against the host engine's
// schema and limits before it is activated.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

var (
	// ErrTimeout is returned when a pass runs past its deadline.
	ErrTimeout = errors.New("validation timed out")
	// ErrInvalid is returned by Report.Err for invalid reports without messages.
	ErrInvalid = errors.New("ruleset invalid")
)

// DefaultTimeout bounds one pass when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Limits are the engine bounds a ruleset is checked against. Zero values
// fall back to the engine's hard limits.
type Limits struct {
	MaxRules           int
	MaxRuleID          int
	MaxPriority        int
	MaxURLFilterLength int
}

func (l Limits) withDefaults() Limits {
	if l.MaxRules <= 0 || l.MaxRules > domain.MaxRulesCount {
		l.MaxRules = domain.MaxRulesCount
	}
	if l.MaxRuleID <= 0 || l.MaxRuleID > domain.MaxRuleID {
		l.MaxRuleID = domain.MaxRuleID
	}
	if l.MaxPriority <= 0 || l.MaxPriority > domain.MaxPriority {
		l.MaxPriority = domain.MaxPriority
	}
	if l.MaxURLFilterLength <= 0 || l.MaxURLFilterLength > domain.MaxLineLength {
		l.MaxURLFilterLength = domain.MaxLineLength
	}
	return l
}

// Recorder receives one outcome per finished pass.
type Recorder interface {
	ObserveValidation(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveValidation(string, time.Duration) {}

// Options configures a Validator.
type Options struct {
	Logger   log.Logger
	Limits   Limits
	Timeout  time.Duration
	Recorder Recorder
}

// Validator runs full, non-fail-fast passes over rulesets.
type Validator struct {
	logger   log.Logger
	limits   Limits
	timeout  time.Duration
	recorder Recorder
	v        *validator.Validate
}

// New constructs a Validator.
func New(opts Options) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidations(v); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	out := &Validator{
		logger:   opts.Logger,
		limits:   opts.Limits.withDefaults(),
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
		v:        v,
	}
	if out.logger == nil {
		out.logger = log.NewNoopLogger()
	}
	if out.timeout <= 0 {
		out.timeout = DefaultTimeout
	}
	if out.recorder == nil {
		out.recorder = nopRecorder{}
	}
	return out, nil
}

// Validate checks every rule and the ruleset as a whole. The returned error
// is non-nil only for ErrTimeout or context cancellation; structural
// problems are reported in the Report.
func (v *Validator) Validate(ctx context.Context, rs domain.Ruleset) (Report, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var rep Report
	pass := newPass(&rep, v.limits)
	for i, r := range rs {
		if err := ctx.Err(); err != nil {
			return v.abort(err, start)
		}
		v.checkRule(&rep, i, r)
		pass.record(i, r.ID, r.Action.Type)
	}
	pass.finish(len(rs))
	return v.done(rep, start), nil
}

func (v *Validator) checkRule(rep *Report, i int, r domain.CompiledRule) {
	label := ruleLabel(i, r.ID)
	v.checkID(rep, label, r.ID)
	v.checkBody(rep, label, r)
}

// checkBody runs every per-rule check that does not involve the id.
func (v *Validator) checkBody(rep *Report, label string, r domain.CompiledRule) {
	if r.Priority < 1 || r.Priority > v.limits.MaxPriority {
		rep.addf("%s: priority must be in [1, %d]", label, v.limits.MaxPriority)
	}
	if err := v.v.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				rep.addf("%s: %s failed %q", label, fieldPath(fe), fe.Tag())
			}
		} else {
			rep.addf("%s: %v", label, err)
		}
	}
	c := r.Condition
	if c.ResourceTypes != nil && len(c.ResourceTypes) == 0 {
		rep.addf("%s: condition.resourceTypes must not be empty", label)
	}
	if len(c.URLFilter) > v.limits.MaxURLFilterLength {
		rep.addf("%s: condition.urlFilter exceeds %d bytes", label, v.limits.MaxURLFilterLength)
	}
	if r.Action.Type == domain.ActionBlock && c.URLFilter == "" && len(c.RequestDomains) == 0 && len(c.InitiatorDomains) == 0 {
		rep.addf("%s: block rule has no url or domain constraint", label)
	}
}

func (v *Validator) checkID(rep *Report, label string, id int) {
	if id < 1 || id > v.limits.MaxRuleID {
		rep.addf("%s: id must be in [1, %d]", label, v.limits.MaxRuleID)
	}
}

func (v *Validator) abort(err error, start time.Time) (Report, error) {
	v.recorder.ObserveValidation(string(OutcomeTimeout), time.Since(start))
	v.logger.Warn(map[string]any{"elapsed": time.Since(start).String()}, "validation_aborted")
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutReport(), ErrTimeout
	}
	return timeoutReport(), err
}

func (v *Validator) done(rep Report, start time.Time) Report {
	rep.finish()
	elapsed := time.Since(start)
	v.recorder.ObserveValidation(string(rep.Outcome), elapsed)
	v.logger.Info(map[string]any{
		"outcome": string(rep.Outcome),
		"rules":   rep.Stats.TotalRules,
		"errors":  len(rep.Errors),
		"gaps":    len(rep.Stats.Gaps),
	}, "validation_complete")
	return rep
}

// pass accumulates the global checks: counts, duplicate ids and gaps.
type pass struct {
	rep    *Report
	limits Limits
	first  map[int]int
	ids    []int
}

func newPass(rep *Report, limits Limits) *pass {
	return &pass{rep: rep, limits: limits, first: make(map[int]int)}
}

// record counts a rule whose id is known. Callers skip rules without a
// usable id.
func (p *pass) record(i, id int, action domain.ActionType) {
	switch action {
	case domain.ActionBlock:
		p.rep.Stats.BlockRules++
	case domain.ActionAllow, domain.ActionAllowAllRequests:
		p.rep.Stats.AllowRules++
	default:
		p.rep.Stats.OtherRules++
	}
	if j, ok := p.first[id]; ok {
		p.rep.addf("rule[%d]: duplicate id %d (first used by rule[%d])", i, id, j)
		return
	}
	p.first[id] = i
	p.ids = append(p.ids, id)
}

func (p *pass) finish(total int) {
	s := &p.rep.Stats
	s.TotalRules = total
	if total > p.limits.MaxRules {
		p.rep.addf("ruleset has %d rules, limit is %d", total, p.limits.MaxRules)
	}
	if len(p.ids) == 0 {
		return
	}
	sort.Ints(p.ids)
	s.MinID = p.ids[0]
	s.MaxID = p.ids[len(p.ids)-1]
	for k := 1; k < len(p.ids); k++ {
		if p.ids[k]-p.ids[k-1] > 1 {
			s.Gaps = append(s.Gaps, IDGap{Start: p.ids[k-1] + 1, End: p.ids[k] - 1})
		}
	}
}

func ruleLabel(i, id int) string {
	return fmt.Sprintf("rule[%d] (id %d)", i, id)
}

// fieldPath drops the struct name from a validator namespace, leaving the
// JSON path, e.g. "condition.resourceTypes[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
