// Package idspace partitions the rule id domain into named ranges and
// applies rule changes to the host engine one range at a time.
package idspace

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/semaphore"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Options configures a Space.
type Options struct {
	Engine    RuleEngine
	Ranges    []domain.IDRange
	MaxRuleID int
	Logger    log.Logger
	Recorder  Recorder
}

// Space owns the id bookkeeping of every range. Calls against one range are
// serialized; calls against different ranges run independently.
type Space struct {
	engine   RuleEngine
	logger   log.Logger
	recorder Recorder
	ranges   map[string]domain.IDRange
	order    []domain.IDRange
	locks    map[string]*semaphore.Weighted
}

// New validates that the ranges partition [1, MaxRuleID] and returns a Space.
func New(opts Options) (*Space, error) {
	maxID := opts.MaxRuleID
	if maxID <= 0 {
		maxID = domain.MaxRuleID
	}
	ranges := opts.Ranges
	if len(ranges) == 0 {
		ranges = domain.DefaultIDRanges
	}
	if err := domain.ValidatePartition(ranges, maxID); err != nil {
		return nil, fmt.Errorf("invalid id ranges: %w", err)
	}
	s := &Space{
		engine:   opts.Engine,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		ranges:   make(map[string]domain.IDRange, len(ranges)),
		locks:    make(map[string]*semaphore.Weighted, len(ranges)),
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	for _, r := range ranges {
		s.ranges[r.Name] = r
		s.order = append(s.order, r)
		s.locks[r.Name] = semaphore.NewWeighted(1)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i].Start < s.order[j].Start })
	return s, nil
}

// Ranges returns the configured ranges ordered by start id.
func (s *Space) Ranges() []domain.IDRange {
	out := make([]domain.IDRange, len(s.order))
	copy(out, s.order)
	return out
}

// Range looks up a range by name.
func (s *Space) Range(name string) (domain.IDRange, error) {
	r, ok := s.ranges[name]
	if !ok {
		return domain.IDRange{}, fmt.Errorf("%w: %q", ErrUnknownRange, name)
	}
	return r, nil
}

// lock enters the critical section of a range.
func (s *Space) lock(ctx context.Context, name string) (domain.IDRange, func(), error) {
	r, err := s.Range(name)
	if err != nil {
		return domain.IDRange{}, nil, err
	}
	sem := s.locks[name]
	if err := sem.Acquire(ctx, 1); err != nil {
		return domain.IDRange{}, nil, err
	}
	return r, func() { sem.Release(1) }, nil
}

// Allocate returns the smallest id of the range not used by an active rule.
// The id is not reserved; use Add to allocate and insert in one step.
func (s *Space) Allocate(ctx context.Context, name string) (int, error) {
	r, unlock, err := s.lock(ctx, name)
	if err != nil {
		return 0, err
	}
	defer unlock()
	active, err := s.activeIn(ctx, r)
	if err != nil {
		return 0, err
	}
	return s.firstFree(r, active)
}

// Add allocates an id in the range, builds the rule for it and inserts it,
// all inside the range's critical section. The rule's ID is forced to the
// allocated id.
func (s *Space) Add(ctx context.Context, name string, build func(id int) domain.CompiledRule) (domain.CompiledRule, error) {
	r, unlock, err := s.lock(ctx, name)
	if err != nil {
		return domain.CompiledRule{}, err
	}
	defer unlock()
	active, err := s.activeIn(ctx, r)
	if err != nil {
		return domain.CompiledRule{}, err
	}
	id, err := s.firstFree(r, active)
	if err != nil {
		return domain.CompiledRule{}, err
	}
	rule := build(id)
	rule.ID = id
	if err := s.update(ctx, nil, []domain.CompiledRule{rule}); err != nil {
		return domain.CompiledRule{}, err
	}
	s.recorder.ObserveRangeUsage(r.Name, len(active)+1, r.Size())
	return rule, nil
}

// Remove drops the given ids from the engine. Every id must lie in the range.
func (s *Space) Remove(ctx context.Context, name string, ids []int) (int, error) {
	r, unlock, err := s.lock(ctx, name)
	if err != nil {
		return 0, err
	}
	defer unlock()
	for _, id := range ids {
		if !r.Contains(id) {
			return 0, fmt.Errorf("%w: %d not in %s", ErrOutOfRange, id, r)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	active, err := s.activeIn(ctx, r)
	if err != nil {
		return 0, err
	}
	drop := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := active[id]; ok {
			drop = append(drop, id)
			delete(active, id)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	if err := s.update(ctx, drop, nil); err != nil {
		return 0, err
	}
	s.recorder.ObserveRangeUsage(r.Name, len(active), r.Size())
	return len(drop), nil
}

// ClearRange removes every active rule of the range and adds replacement in
// the same engine update, so no rule of the prior state survives and no
// window without the new rules is visible. It returns the number removed.
func (s *Space) ClearRange(ctx context.Context, name string, replacement []domain.CompiledRule) (int, error) {
	r, unlock, err := s.lock(ctx, name)
	if err != nil {
		return 0, err
	}
	defer unlock()
	seen := make(map[int]struct{}, len(replacement))
	for _, rule := range replacement {
		if !r.Contains(rule.ID) {
			return 0, fmt.Errorf("%w: %d not in %s", ErrOutOfRange, rule.ID, r)
		}
		if _, dup := seen[rule.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate replacement id %d", ErrOutOfRange, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	active, err := s.activeIn(ctx, r)
	if err != nil {
		return 0, err
	}
	remove := make([]int, 0, len(active))
	for id := range active {
		remove = append(remove, id)
	}
	sort.Ints(remove)
	if len(remove) == 0 && len(replacement) == 0 {
		return 0, nil
	}
	if err := s.update(ctx, remove, replacement); err != nil {
		return 0, err
	}
	s.recorder.ObserveRangeUsage(r.Name, len(replacement), r.Size())
	s.logger.Info(map[string]any{"range": r.Name, "removed": len(remove), "added": len(replacement)}, "range_replaced")
	return len(remove), nil
}

// Active returns the active rules of the range ordered by id.
func (s *Space) Active(ctx context.Context, name string) ([]domain.CompiledRule, error) {
	r, unlock, err := s.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	active, err := s.activeIn(ctx, r)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CompiledRule, 0, len(active))
	for _, rule := range active {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Space) activeIn(ctx context.Context, r domain.IDRange) (map[int]domain.CompiledRule, error) {
	rules, err := s.engine.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading active rules: %w", ErrEngineUpdate, err)
	}
	out := make(map[int]domain.CompiledRule)
	for _, rule := range rules {
		if r.Contains(rule.ID) {
			out[rule.ID] = rule
		}
	}
	return out, nil
}

func (s *Space) firstFree(r domain.IDRange, active map[int]domain.CompiledRule) (int, error) {
	for id := r.Start; id <= r.End; id++ {
		if _, used := active[id]; !used {
			return id, nil
		}
	}
	s.logger.Warn(map[string]any{"range": r.Name, "size": r.Size()}, "range_exhausted")
	return 0, fmt.Errorf("%w: %s", ErrRangeExhausted, r)
}

func (s *Space) update(ctx context.Context, remove []int, add []domain.CompiledRule) error {
	if err := s.engine.UpdateRules(ctx, remove, add); err != nil {
		s.logger.Error(map[string]any{"remove": len(remove), "add": len(add), "error": err}, "engine_update_failed")
		return fmt.Errorf("%w: %w", ErrEngineUpdate, err)
	}
	return nil
}
