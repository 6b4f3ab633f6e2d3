// Package heuristic discovers tracking domains from observed requests. It
// keeps per-domain statistics, scores them with a time decay and emits a
// BlockDecision the first time a domain crosses the blocking rule.
package heuristic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/common/utils"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Observation outcomes, also used as metric labels.
const (
	OutcomeRecorded   = "recorded"
	OutcomeAutoBlock  = "auto_block"
	OutcomeBlockedHit = "blocked_hit"
	OutcomeAllowed    = "allowed"
	OutcomeSameSite   = "same_site"
	OutcomeUnresolved = "unresolved"
	OutcomeFailed     = "failed"
)

// ErrInvalidDomain is returned by Allow and Revoke for names without a
// registrable domain.
var ErrInvalidDomain = errors.New("invalid domain")

// Options configures an Engine.
type Options struct {
	Clock    clock.Clock
	Logger   log.Logger
	Sink     Sink
	Store    StateStore
	Sessions Sessions
	Recorder Recorder
	Config   Config
}

// Engine is the tracking heuristic. All methods are safe for concurrent use.
type Engine struct {
	clock    clock.Clock
	logger   log.Logger
	sink     Sink
	store    StateStore
	sessions Sessions
	recorder Recorder
	cfg      Config

	mu      sync.Mutex
	records map[string]*domain.TrackingRecord
	blocked map[string]struct{}
	allowed map[string]struct{}

	persistReq chan struct{}
}

// New constructs an Engine with empty state. Call Load to restore saved state.
func New(opts Options) *Engine {
	e := &Engine{
		clock:      opts.Clock,
		logger:     opts.Logger,
		sink:       opts.Sink,
		store:      opts.Store,
		sessions:   opts.Sessions,
		recorder:   opts.Recorder,
		cfg:        opts.Config.withDefaults(),
		records:    make(map[string]*domain.TrackingRecord),
		blocked:    make(map[string]struct{}),
		allowed:    make(map[string]struct{}),
		persistReq: make(chan struct{}, 1),
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.logger == nil {
		e.logger = log.NewNoopLogger()
	}
	if e.sink == nil {
		e.sink = nopSink{}
	}
	if e.sessions == nil {
		e.sessions = nopSessions{}
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Observe folds one request into the statistics. It never returns an error
// and never panics: failures are logged and the request counts as
// unclassified.
func (e *Engine) Observe(ev domain.RequestEvent) {
	outcome := OutcomeFailed
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn(map[string]any{"panic": fmt.Sprint(r), "url": ev.URL}, "observe_panic")
			outcome = OutcomeFailed
		}
		e.recorder.ObserveEvent(outcome)
	}()
	outcome = e.observe(ev)
}

func (e *Engine) observe(ev domain.RequestEvent) string {
	reqDomain, ok := utils.SiteOf(ev.URL)
	if !ok {
		return OutcomeUnresolved
	}
	site, ok := utils.SiteOf(ev.InitiatorOrigin)
	if !ok {
		return OutcomeUnresolved
	}
	if reqDomain == site {
		return OutcomeSameSite
	}
	indicators := classify(ev)
	now := e.clock.Now()

	outcome, decision, attribution, indicatorCount := e.fold(reqDomain, site, indicators, now)
	switch outcome {
	case OutcomeBlockedHit:
		e.sessions.AddBlocked(site, reqDomain, 1)
	case OutcomeAutoBlock:
		e.logger.Info(map[string]any{
			"domain":     reqDomain,
			"score":      decision.Score,
			"sites":      decision.Sites,
			"indicators": indicatorCount,
		}, "auto_block")
		e.decided(decision)
		for s, n := range attribution {
			e.sessions.AddBlocked(s, reqDomain, n)
		}
	}
	return outcome
}

// fold updates the record of reqDomain under mu. A block decision is
// published before mu is released, so it is ordered before any later
// Allow of the same domain.
func (e *Engine) fold(reqDomain, site string, indicators []domain.Indicator, now time.Time) (string, domain.BlockDecision, map[string]int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.blocked[reqDomain]; ok {
		return OutcomeBlockedHit, domain.BlockDecision{}, nil, 0
	}
	if _, ok := e.allowed[reqDomain]; ok {
		return OutcomeAllowed, domain.BlockDecision{}, nil, 0
	}

	rec, ok := e.records[reqDomain]
	if !ok {
		rec = domain.NewTrackingRecord(reqDomain, now)
		e.records[reqDomain] = rec
	}
	rec.Sites[site]++
	rec.RequestCount++
	rec.LastSeen = now
	for _, ind := range indicators {
		rec.Indicators[ind] = struct{}{}
	}
	if rec.SiteCount() >= e.cfg.CrossSiteIndicatorSites {
		rec.Indicators[domain.IndicatorCrossSite] = struct{}{}
	}
	rec.Score = e.cfg.score(rec, now)

	if !e.cfg.shouldBlock(rec) {
		return OutcomeRecorded, domain.BlockDecision{}, nil, 0
	}

	e.blocked[reqDomain] = struct{}{}
	attribution := make(map[string]int, len(rec.Sites))
	for s, n := range rec.Sites {
		attribution[s] = n
	}
	decision := domain.BlockDecision{
		Domain: reqDomain,
		Kind:   domain.DecisionBlock,
		Score:  rec.Score,
		Sites:  rec.SiteCount(),
		At:     now,
	}
	e.sink.Publish(decision)
	return OutcomeAutoBlock, decision, attribution, rec.IndicatorCount()
}

// decided records a decision already handed to the sink.
func (e *Engine) decided(d domain.BlockDecision) {
	e.recorder.ObserveDecision(d.Kind.String())
	e.requestPersist()
}

// requestPersist asks the Run loop for a save without waiting for it.
func (e *Engine) requestPersist() {
	select {
	case e.persistReq <- struct{}{}:
	default:
	}
}

func normalizeDomain(name string) (string, error) {
	d, ok := utils.RegistrableDomain(strings.TrimSpace(name))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, name)
	}
	return d, nil
}

// Allow marks name as allowed by the user. An allowed domain is never
// auto-blocked again until Revoke. Any adaptive block rule for it is
// dropped through an unblock decision.
func (e *Engine) Allow(name string) error {
	d, err := normalizeDomain(name)
	if err != nil {
		return err
	}
	decision := domain.BlockDecision{Domain: d, Kind: domain.DecisionUnblock, At: e.clock.Now()}
	e.mu.Lock()
	e.allowed[d] = struct{}{}
	delete(e.blocked, d)
	e.sink.Publish(decision)
	e.mu.Unlock()

	e.logger.Info(map[string]any{"domain": d}, "domain_allowed")
	e.decided(decision)
	return nil
}

// Revoke lifts a user allow. The domain is re-evaluated on its next
// observation.
func (e *Engine) Revoke(name string) error {
	d, err := normalizeDomain(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	_, was := e.allowed[d]
	delete(e.allowed, d)
	e.mu.Unlock()
	if was {
		e.logger.Info(map[string]any{"domain": d}, "domain_allow_revoked")
		e.requestPersist()
	}
	return nil
}

// Status reports the decided state of name.
func (e *Engine) Status(name string) domain.DomainStatus {
	d, err := normalizeDomain(name)
	if err != nil {
		return domain.StatusUnseen
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(d)
}

func (e *Engine) statusLocked(d string) domain.DomainStatus {
	if _, ok := e.allowed[d]; ok {
		return domain.StatusAllowed
	}
	if _, ok := e.blocked[d]; ok {
		return domain.StatusBlocked
	}
	if _, ok := e.records[d]; ok {
		return domain.StatusObserved
	}
	return domain.StatusUnseen
}

// Record returns a deep copy of the record for name with its score decayed
// to the current time.
func (e *Engine) Record(name string) (domain.TrackingRecord, bool) {
	d, err := normalizeDomain(name)
	if err != nil {
		return domain.TrackingRecord{}, false
	}
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[d]
	if !ok {
		return domain.TrackingRecord{}, false
	}
	out, err := copyRecord(rec)
	if err != nil {
		return domain.TrackingRecord{}, false
	}
	out.Score = e.cfg.score(rec, now)
	return out, true
}

// Blocked returns the auto-blocked domains, sorted.
func (e *Engine) Blocked() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.blocked)
}

// Allowed returns the user-allowed domains, sorted.
func (e *Engine) Allowed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.allowed)
}

// Snapshot returns a deep copy of the full state with scores decayed to now.
func (e *Engine) Snapshot() (domain.TrackingState, error) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := domain.TrackingState{
		Records: make([]domain.TrackingRecord, 0, len(e.records)),
		Blocked: sortedKeys(e.blocked),
		Allowed: sortedKeys(e.allowed),
		SavedAt: now,
	}
	for _, d := range sortedKeys(e.records) {
		rec := e.records[d]
		cp, err := copyRecord(rec)
		if err != nil {
			return domain.TrackingState{}, fmt.Errorf("copying record %s: %w", d, err)
		}
		cp.Score = e.cfg.score(rec, now)
		st.Records = append(st.Records, cp)
	}
	return st, nil
}

// Load replaces the in-memory state with the saved one.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading tracking state: %w", err)
	}
	records := make(map[string]*domain.TrackingRecord, len(st.Records))
	for i := range st.Records {
		rec := st.Records[i]
		if rec.Domain == "" {
			continue
		}
		if rec.Sites == nil {
			rec.Sites = make(map[string]int)
		}
		if rec.Indicators == nil {
			rec.Indicators = make(map[domain.Indicator]struct{})
		}
		records[rec.Domain] = &rec
	}
	e.mu.Lock()
	e.records = records
	e.blocked = toSet(st.Blocked)
	e.allowed = toSet(st.Allowed)
	e.mu.Unlock()
	e.logger.Info(map[string]any{
		"records": len(records),
		"blocked": len(st.Blocked),
		"allowed": len(st.Allowed),
	}, "tracking_state_loaded")
	return nil
}

// Persist saves a snapshot of the current state.
func (e *Engine) Persist(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	st, err := e.Snapshot()
	if err != nil {
		return err
	}
	if err := e.store.Save(ctx, st); err != nil {
		e.logger.Error(map[string]any{"error": err}, "tracking_state_save_failed")
		return err
	}
	e.recorder.ObserveTracked(len(st.Records), len(st.Blocked), len(st.Allowed))
	return nil
}

func copyRecord(rec *domain.TrackingRecord) (domain.TrackingRecord, error) {
	v, err := copystructure.Copy(*rec)
	if err != nil {
		return domain.TrackingRecord{}, err
	}
	return v.(domain.TrackingRecord), nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
