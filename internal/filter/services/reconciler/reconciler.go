// Package reconciler turns heuristic block decisions into adaptive rules.
// Decisions flow one way: the engine publishes, the reconciler consumes and
// talks to the id space. Nothing here calls back into the engine.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/services/idspace"
)

// OpRecompute is the guarded operation name of Recompute.
const OpRecompute = "recompute-tracking-rules"

// DefaultQueueSize bounds the number of pending decisions.
const DefaultQueueSize = 1024

// Reconcile results, also used as metric labels.
const (
	ResultApplied = "applied"
	ResultNoop    = "noop"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Options configures a Reconciler.
type Options struct {
	Space    IDSpace
	Guard    Guard
	Logger   log.Logger
	Recorder Recorder
	// Range receives the adaptive rules. Defaults to domain.RangeAdaptive.
	Range     string
	QueueSize int
	// Blocked reports the engine's current blocked set. When set, Run
	// recomputes the whole range from it after dropped decisions.
	Blocked func() []string
}

// Reconciler keeps one block rule per auto-blocked domain.
type Reconciler struct {
	space    IDSpace
	guard    Guard
	logger   log.Logger
	recorder Recorder
	rng      string
	blocked  func() []string

	queue chan domain.BlockDecision
	stale atomic.Bool

	// mu serializes Apply, Sync and Recompute and guards index.
	mu    sync.Mutex
	index map[string]int
}

// New returns a Reconciler with an empty index. Call Sync or Run before
// applying decisions against an engine that already holds rules.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		space:    opts.Space,
		guard:    opts.Guard,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		rng:      opts.Range,
		blocked:  opts.Blocked,
		index:    make(map[string]int),
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	if r.guard == nil {
		r.guard = idspace.NewOpGuard(r.logger)
	}
	if r.rng == "" {
		r.rng = domain.RangeAdaptive
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	r.queue = make(chan domain.BlockDecision, size)
	return r
}

// Publish queues a decision without blocking. When the queue is full the
// decision is dropped and the range is marked for a full recompute.
func (r *Reconciler) Publish(d domain.BlockDecision) {
	select {
	case r.queue <- d:
	default:
		r.stale.Store(true)
		r.recorder.ObserveReconcile(d.Kind.String(), ResultDropped)
		r.logger.Warn(map[string]any{"domain": d.Domain, "kind": d.Kind.String()}, "decision_dropped")
	}
}

// blockRule is the adaptive rule for one tracking domain.
func blockRule(id int, name string) domain.CompiledRule {
	types := make([]domain.ResourceType, len(domain.DefaultResourceTypes))
	copy(types, domain.DefaultResourceTypes)
	return domain.CompiledRule{
		ID:       id,
		Priority: domain.BlockPriority,
		Action:   domain.Action{Type: domain.ActionBlock},
		Condition: domain.Condition{
			RequestDomains: []string{name},
			ResourceTypes:  types,
		},
	}
}

// ruleDomain returns the domain an adaptive rule blocks.
func ruleDomain(rule domain.CompiledRule) (string, bool) {
	if rule.Action.Type != domain.ActionBlock || len(rule.Condition.RequestDomains) != 1 {
		return "", false
	}
	return rule.Condition.RequestDomains[0], true
}

// Sync rebuilds the domain index from the rules active in the range.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncLocked(ctx)
}

func (r *Reconciler) syncLocked(ctx context.Context) error {
	rules, err := r.space.Active(ctx, r.rng)
	if err != nil {
		return fmt.Errorf("reading %s rules: %w", r.rng, err)
	}
	index := make(map[string]int, len(rules))
	for _, rule := range rules {
		if d, ok := ruleDomain(rule); ok {
			index[d] = rule.ID
		}
	}
	r.index = index
	r.logger.Debug(map[string]any{"range": r.rng, "rules": len(index)}, "reconciler_synced")
	return nil
}

// Apply turns one decision into a rule change. A block for a domain that
// already has a rule and an unblock for one that has none are no-ops.
func (r *Reconciler) Apply(ctx context.Context, d domain.BlockDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := d.Kind.String()
	result, err := r.applyLocked(ctx, d)
	if err != nil {
		r.recorder.ObserveReconcile(kind, ResultFailed)
		return err
	}
	r.recorder.ObserveReconcile(kind, result)
	return nil
}

func (r *Reconciler) applyLocked(ctx context.Context, d domain.BlockDecision) (string, error) {
	id, known := r.index[d.Domain]
	switch d.Kind {
	case domain.DecisionBlock:
		if known {
			return ResultNoop, nil
		}
		rule, err := r.space.Add(ctx, r.rng, func(id int) domain.CompiledRule { return blockRule(id, d.Domain) })
		if err != nil {
			return "", fmt.Errorf("adding rule for %s: %w", d.Domain, err)
		}
		r.index[d.Domain] = rule.ID
		r.logger.Info(map[string]any{"domain": d.Domain, "id": rule.ID}, "adaptive_rule_added")
		return ResultApplied, nil
	case domain.DecisionUnblock:
		if !known {
			return ResultNoop, nil
		}
		if _, err := r.space.Remove(ctx, r.rng, []int{id}); err != nil {
			return "", fmt.Errorf("removing rule %d for %s: %w", id, d.Domain, err)
		}
		delete(r.index, d.Domain)
		r.logger.Info(map[string]any{"domain": d.Domain, "id": id}, "adaptive_rule_removed")
		return ResultApplied, nil
	default:
		return "", fmt.Errorf("unknown decision kind %v", d.Kind)
	}
}

// Recompute replaces every rule in the range with one block rule per
// domain in blocked, numbered from the start of the range in domain order.
// It fails with idspace.ErrRangeExhausted, changing nothing, when blocked
// does not fit.
func (r *Reconciler) Recompute(ctx context.Context, blocked []string) error {
	return r.guard.TryRun(ctx, OpRecompute, func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		rng, err := r.space.Range(r.rng)
		if err != nil {
			return err
		}
		names := uniqueSorted(blocked)
		if len(names) > rng.Size() {
			r.logger.Warn(map[string]any{"range": rng.Name, "domains": len(names), "size": rng.Size()}, "range_exhausted")
			return fmt.Errorf("%w: %d domains do not fit %s", idspace.ErrRangeExhausted, len(names), rng)
		}
		rules := make([]domain.CompiledRule, len(names))
		index := make(map[string]int, len(names))
		for i, name := range names {
			rules[i] = blockRule(rng.Start+i, name)
			index[name] = rng.Start + i
		}
		if _, err := r.space.ClearRange(ctx, r.rng, rules); err != nil {
			return err
		}
		r.index = index
		r.stale.Store(false)
		return nil
	})
}

// Rules returns the indexed domain to rule id mapping.
func (r *Reconciler) Rules() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.index))
	for d, id := range r.index {
		out[d] = id
	}
	return out
}

// Run syncs the index, then applies queued decisions until ctx ends.
// Failures are logged and counted; they never stop the loop. A dequeued
// decision is applied even if ctx ends meanwhile.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Sync(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-r.queue:
			if err := r.Apply(context.WithoutCancel(ctx), d); err != nil {
				r.logger.Error(map[string]any{"domain": d.Domain, "kind": d.Kind.String(), "error": err}, "reconcile_failed")
			}
			if len(r.queue) == 0 {
				r.resync(ctx)
			}
		}
	}
}

// Drain applies every queued decision without waiting for more and
// returns how many were applied without error.
func (r *Reconciler) Drain(ctx context.Context) int {
	applied := 0
	for {
		select {
		case d := <-r.queue:
			if err := r.Apply(ctx, d); err != nil {
				r.logger.Error(map[string]any{"domain": d.Domain, "kind": d.Kind.String(), "error": err}, "reconcile_failed")
				continue
			}
			applied++
		default:
			r.resync(ctx)
			return applied
		}
	}
}

// resync recomputes the range after dropped decisions.
func (r *Reconciler) resync(ctx context.Context) {
	if r.blocked == nil || !r.stale.Load() {
		return
	}
	err := r.Recompute(ctx, r.blocked())
	switch {
	case err == nil:
		r.logger.Info(map[string]any{"range": r.rng}, "reconciler_resynced")
	case errors.Is(err, idspace.ErrInProgress):
	default:
		r.logger.Error(map[string]any{"range": r.rng, "error": err}, "reconciler_resync_failed")
	}
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
