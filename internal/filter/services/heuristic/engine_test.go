package heuristic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/repos/kv"
	"github.com/haukened/rr-filter/internal/filter/repos/tracking"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sinkStub struct {
	mu        sync.Mutex
	decisions []domain.BlockDecision
}

func (s *sinkStub) Publish(d domain.BlockDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
}

func (s *sinkStub) all() []domain.BlockDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BlockDecision(nil), s.decisions...)
}

type sessionsStub struct {
	mu    sync.Mutex
	hits  map[string]map[string]int
	panic bool
}

func (s *sessionsStub) AddBlocked(site, tracker string, n int) {
	if s.panic {
		panic("sessions unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hits == nil {
		s.hits = make(map[string]map[string]int)
	}
	if s.hits[site] == nil {
		s.hits[site] = make(map[string]int)
	}
	s.hits[site][tracker] += n
}

type recorderStub struct {
	mu        sync.Mutex
	outcomes  map[string]int
	decisions map[string]int
	tracked   [3]int
}

func (r *recorderStub) ObserveEvent(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func (r *recorderStub) ObserveDecision(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = make(map[string]int)
	}
	r.decisions[kind]++
}

func (r *recorderStub) ObserveTracked(records, blocked, allowed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = [3]int{records, blocked, allowed}
}

func (r *recorderStub) outcome(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[name]
}

type harness struct {
	engine   *Engine
	clock    *clock.MockClock
	sink     *sinkStub
	sessions *sessionsStub
	recorder *recorderStub
}

func newHarness(store StateStore) *harness {
	h := &harness{
		clock:    &clock.MockClock{CurrentTime: t0},
		sink:     &sinkStub{},
		sessions: &sessionsStub{},
		recorder: &recorderStub{},
	}
	h.engine = New(Options{
		Clock:    h.clock,
		Sink:     h.sink,
		Store:    store,
		Sessions: h.sessions,
		Recorder: h.recorder,
	})
	return h
}

func trackerHit(site string) domain.RequestEvent {
	return domain.RequestEvent{
		URL:             "https://tracker.io/collect?uid=1",
		ResourceType:    "xmlhttprequest",
		InitiatorOrigin: "https://" + site,
	}
}

func TestObserve_BlocksAcrossThreeSites(t *testing.T) {
	h := newHarness(nil)

	h.engine.Observe(trackerHit("a.com"))
	h.engine.Observe(trackerHit("b.com"))
	assert.Equal(t, domain.StatusObserved, h.engine.Status("tracker.io"))
	assert.Empty(t, h.sink.all())

	h.engine.Observe(trackerHit("c.com"))
	assert.Equal(t, domain.StatusBlocked, h.engine.Status("tracker.io"))

	decisions := h.sink.all()
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, "tracker.io", d.Domain)
	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, 3, d.Sites)
	assert.InDelta(t, 39.3, d.Score, 1e-9)
	assert.Equal(t, t0, d.At)

	// attribution of the requests that led to the decision
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		assert.Equal(t, 1, h.sessions.hits[s]["tracker.io"], s)
	}

	h.engine.Observe(trackerHit("d.com"))
	h.engine.Observe(trackerHit("a.com"))
	assert.Len(t, h.sink.all(), 1, "a blocked domain is decided once")
	assert.Equal(t, 1, h.sessions.hits["d.com"]["tracker.io"])
	assert.Equal(t, 2, h.sessions.hits["a.com"]["tracker.io"])

	assert.Equal(t, 2, h.recorder.outcome(OutcomeRecorded))
	assert.Equal(t, 1, h.recorder.outcome(OutcomeAutoBlock))
	assert.Equal(t, 2, h.recorder.outcome(OutcomeBlockedHit))
	assert.Equal(t, 1, h.recorder.decisions["block"])

	rec, ok := h.engine.Record("tracker.io")
	require.True(t, ok)
	assert.True(t, rec.HasIndicator(domain.IndicatorURLKeyword))
	assert.True(t, rec.HasIndicator(domain.IndicatorTrackingParam))
	assert.True(t, rec.HasIndicator(domain.IndicatorCrossSite))
	assert.Equal(t, 3, rec.RequestCount, "hits after blocking are not folded into the record")
}

func TestObserve_CrossSiteAloneDoesNotBlock(t *testing.T) {
	h := newHarness(nil)
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(domain.RequestEvent{
			URL:             "https://cdn.jsdelivr.example/npm/lib.js",
			ResourceType:    "script",
			InitiatorOrigin: "https://" + s,
		})
	}
	rec, ok := h.engine.Record("cdn.jsdelivr.example")
	require.True(t, ok)
	assert.InDelta(t, 29.3, rec.Score, 1e-9)
	assert.Equal(t, 1, rec.IndicatorCount())
	assert.Equal(t, domain.StatusObserved, h.engine.Status("jsdelivr.example"))
	assert.Empty(t, h.sink.all())
}

func TestObserve_SkippedRequests(t *testing.T) {
	tests := []struct {
		name    string
		ev      domain.RequestEvent
		outcome string
	}{
		{"same site", domain.RequestEvent{URL: "https://static.news.com/a.js", InitiatorOrigin: "https://www.news.com"}, OutcomeSameSite},
		{"no initiator", domain.RequestEvent{URL: "https://tracker.io/collect"}, OutcomeUnresolved},
		{"bad url", domain.RequestEvent{URL: "not a url", InitiatorOrigin: "https://a.com"}, OutcomeUnresolved},
		{"bare suffix", domain.RequestEvent{URL: "https://co.uk/x", InitiatorOrigin: "https://a.com"}, OutcomeUnresolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(nil)
			h.engine.Observe(tt.ev)
			assert.Equal(t, 1, h.recorder.outcome(tt.outcome))
			snap, err := h.engine.Snapshot()
			require.NoError(t, err)
			assert.Empty(t, snap.Records)
		})
	}
}

func TestObserve_UsesRegistrableDomain(t *testing.T) {
	h := newHarness(nil)
	h.engine.Observe(domain.RequestEvent{URL: "https://px.ads.tracker.io/p", InitiatorOrigin: "https://www.shop.co.uk"})
	rec, ok := h.engine.Record("tracker.io")
	require.True(t, ok)
	assert.Equal(t, "tracker.io", rec.Domain)
	assert.Equal(t, map[string]int{"shop.co.uk": 1}, rec.Sites)
}

func TestAllow(t *testing.T) {
	h := newHarness(nil)
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(trackerHit(s))
	}
	require.Equal(t, domain.StatusBlocked, h.engine.Status("tracker.io"))

	require.NoError(t, h.engine.Allow("WWW.Tracker.io."))
	assert.Equal(t, domain.StatusAllowed, h.engine.Status("tracker.io"))
	assert.Equal(t, []string{"tracker.io"}, h.engine.Allowed())
	assert.Empty(t, h.engine.Blocked())

	decisions := h.sink.all()
	require.Len(t, decisions, 2)
	assert.Equal(t, domain.DecisionUnblock, decisions[1].Kind)
	assert.Equal(t, "tracker.io", decisions[1].Domain)

	for _, s := range []string{"d.com", "e.com", "f.com", "g.com"} {
		h.engine.Observe(trackerHit(s))
	}
	assert.Equal(t, domain.StatusAllowed, h.engine.Status("tracker.io"), "allowed is never overridden by observations")
	assert.Len(t, h.sink.all(), 2)
	assert.Equal(t, 4, h.recorder.outcome(OutcomeAllowed))
}

func TestAllow_BeforeAnyObservation(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.engine.Allow("tracker.io"))
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(trackerHit(s))
	}
	assert.Equal(t, domain.StatusAllowed, h.engine.Status("tracker.io"))
	assert.Empty(t, h.engine.Blocked())
}

func TestAllow_InvalidDomain(t *testing.T) {
	h := newHarness(nil)
	assert.ErrorIs(t, h.engine.Allow("com"), ErrInvalidDomain)
	assert.ErrorIs(t, h.engine.Allow(""), ErrInvalidDomain)
	assert.ErrorIs(t, h.engine.Revoke("localhost"), ErrInvalidDomain)
	assert.Empty(t, h.sink.all())
}

func TestRevoke(t *testing.T) {
	h := newHarness(nil)
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(trackerHit(s))
	}
	require.NoError(t, h.engine.Allow("tracker.io"))
	require.NoError(t, h.engine.Revoke("tracker.io"))
	assert.Equal(t, domain.StatusObserved, h.engine.Status("tracker.io"))

	h.engine.Observe(trackerHit("a.com"))
	assert.Equal(t, domain.StatusBlocked, h.engine.Status("tracker.io"), "the record still meets the blocking rule")
	decisions := h.sink.all()
	require.Len(t, decisions, 3)
	assert.Equal(t, domain.DecisionBlock, decisions[2].Kind)

	assert.NoError(t, h.engine.Revoke("never-allowed.com"))
}

func TestRecord_DecaysWithIdleTime(t *testing.T) {
	h := newHarness(nil)
	h.engine.Observe(trackerHit("a.com"))
	h.engine.Observe(trackerHit("b.com"))
	fresh, ok := h.engine.Record("tracker.io")
	require.True(t, ok)

	h.clock.Advance(31 * day)
	stale, ok := h.engine.Record("tracker.io")
	require.True(t, ok)
	assert.LessOrEqual(t, stale.Score, 0.1*fresh.Score+1e-9)

	h.engine.Observe(trackerHit("a.com"))
	revived, _ := h.engine.Record("tracker.io")
	assert.Greater(t, revived.Score, fresh.Score, "a new observation resets the idle clock")
}

func TestRecord_IsACopy(t *testing.T) {
	h := newHarness(nil)
	h.engine.Observe(trackerHit("a.com"))
	rec, ok := h.engine.Record("tracker.io")
	require.True(t, ok)
	rec.Sites["evil.com"] = 100
	rec.Indicators[domain.IndicatorCrossSite] = struct{}{}

	again, _ := h.engine.Record("tracker.io")
	assert.Equal(t, 1, again.SiteCount())
	assert.False(t, again.HasIndicator(domain.IndicatorCrossSite))

	_, ok = h.engine.Record("unseen.com")
	assert.False(t, ok)
}

func TestCleanup(t *testing.T) {
	h := newHarness(nil)
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(trackerHit(s))
	}
	h.engine.Observe(domain.RequestEvent{URL: "https://old.example/lib.js", InitiatorOrigin: "https://a.com"})
	require.NoError(t, h.engine.Allow("friendly.example"))
	h.engine.Observe(domain.RequestEvent{URL: "https://friendly.example/x", InitiatorOrigin: "https://a.com"})

	h.clock.Advance(20 * day)
	h.engine.Observe(domain.RequestEvent{URL: "https://recent.example/lib.js", InitiatorOrigin: "https://a.com"})
	assert.Equal(t, 0, h.engine.Cleanup())

	h.clock.Advance(11 * day)
	assert.Equal(t, 1, h.engine.Cleanup())
	assert.Equal(t, domain.StatusUnseen, h.engine.Status("old.example"))
	assert.Equal(t, domain.StatusObserved, h.engine.Status("recent.example"))
	assert.Equal(t, domain.StatusBlocked, h.engine.Status("tracker.io"), "decided domains survive cleanup")
	assert.Equal(t, domain.StatusAllowed, h.engine.Status("friendly.example"))
}

func TestObserve_RecoversFromPanics(t *testing.T) {
	h := newHarness(nil)
	h.sessions.panic = true
	for _, s := range []string{"a.com", "b.com"} {
		h.engine.Observe(trackerHit(s))
	}
	assert.NotPanics(t, func() { h.engine.Observe(trackerHit("c.com")) })
	assert.Equal(t, 1, h.recorder.outcome(OutcomeFailed))
	assert.Equal(t, domain.StatusBlocked, h.engine.Status("tracker.io"))
	assert.Len(t, h.sink.all(), 1, "the decision is published before attribution")
}

func TestObserve_ConcurrentDecidesOnce(t *testing.T) {
	h := newHarness(nil)
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Observe(trackerHit(fmt.Sprintf("site%d.com", i%8)))
		}()
	}
	wg.Wait()
	assert.Len(t, h.sink.all(), 1)
	assert.Equal(t, []string{"tracker.io"}, h.engine.Blocked())
}

func TestPersistAndLoad(t *testing.T) {
	repo := tracking.New(kv.NewMemory())
	h := newHarness(repo)
	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(trackerHit(s))
	}
	h.engine.Observe(domain.RequestEvent{URL: "https://cdn.example/lib.js", InitiatorOrigin: "https://a.com"})
	require.NoError(t, h.engine.Allow("friendly.example"))
	require.NoError(t, h.engine.Persist(context.Background()))
	assert.Equal(t, [3]int{2, 1, 1}, h.recorder.tracked)

	restored := newHarness(repo)
	require.NoError(t, restored.engine.Load(context.Background()))
	assert.Equal(t, []string{"tracker.io"}, restored.engine.Blocked())
	assert.Equal(t, []string{"friendly.example"}, restored.engine.Allowed())
	assert.Equal(t, domain.StatusObserved, restored.engine.Status("cdn.example"))

	rec, ok := restored.engine.Record("tracker.io")
	require.True(t, ok)
	assert.Equal(t, 3, rec.SiteCount())
	assert.Equal(t, 3, rec.IndicatorCount())
	assert.True(t, rec.LastSeen.Equal(t0))

	restored.engine.Observe(trackerHit("z.com"))
	assert.Empty(t, restored.sink.all(), "restored blocks are not re-emitted")
}

func TestLoad_EmptyStore(t *testing.T) {
	h := newHarness(tracking.New(kv.NewMemory()))
	require.NoError(t, h.engine.Load(context.Background()))
	snap, err := h.engine.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Empty(t, snap.Blocked)
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, domain.TrackingState) error { return f.err }
func (f failingStore) Load(context.Context) (domain.TrackingState, error) {
	return domain.TrackingState{}, f.err
}

func TestPersist_Errors(t *testing.T) {
	boom := errors.New("disk full")
	h := newHarness(failingStore{err: boom})
	assert.ErrorIs(t, h.engine.Persist(context.Background()), boom)
	assert.ErrorIs(t, h.engine.Load(context.Background()), boom)

	noStore := newHarness(nil)
	assert.NoError(t, noStore.engine.Persist(context.Background()))
	assert.NoError(t, noStore.engine.Load(context.Background()))
}

type signalStore struct {
	saves chan domain.TrackingState
}

func (s *signalStore) Save(_ context.Context, st domain.TrackingState) error {
	s.saves <- st
	return nil
}

func (s *signalStore) Load(context.Context) (domain.TrackingState, error) {
	return domain.TrackingState{}, nil
}

func TestRun_PersistsAfterDecisionsAndOnShutdown(t *testing.T) {
	store := &signalStore{saves: make(chan domain.TrackingState, 4)}
	h := newHarness(store)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	for _, s := range []string{"a.com", "b.com", "c.com"} {
		h.engine.Observe(trackerHit(s))
	}
	select {
	case st := <-store.saves:
		assert.Equal(t, []string{"tracker.io"}, st.Blocked)
	case <-time.After(2 * time.Second):
		t.Fatal("decision did not trigger a save")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-store.saves:
	default:
		t.Fatal("no final save on shutdown")
	}
}

// allowOnBlock allows a domain from inside the auto_block log call, which
// runs after the engine lock is released.
type allowOnBlock struct {
	log.Logger
	engine *Engine
}

func (a *allowOnBlock) Info(fields map[string]any, msg string) {
	if msg == "auto_block" {
		_ = a.engine.Allow(fields["domain"].(string))
	}
}

func TestAllow_RacingAutoBlockPublishesUnblockLast(t *testing.T) {
	sink := &sinkStub{}
	hook := &allowOnBlock{Logger: log.NewNoopLogger()}
	e := New(Options{Clock: &clock.MockClock{CurrentTime: t0}, Logger: hook, Sink: sink})
	hook.engine = e

	for _, s := range []string{"a.com", "b.com", "c.com"} {
		e.Observe(trackerHit(s))
	}

	assert.Equal(t, domain.StatusAllowed, e.Status("tracker.io"))
	decisions := sink.all()
	require.Len(t, decisions, 2)
	assert.Equal(t, domain.DecisionBlock, decisions[0].Kind)
	assert.Equal(t, domain.DecisionUnblock, decisions[1].Kind)
}

type fixedStore struct{ st domain.TrackingState }

func (f fixedStore) Save(context.Context, domain.TrackingState) error { return nil }
func (f fixedStore) Load(context.Context) (domain.TrackingState, error) {
	return f.st, nil
}

func TestLoad_RecordWithNullMaps(t *testing.T) {
	h := newHarness(fixedStore{st: domain.TrackingState{
		Records: []domain.TrackingRecord{{Domain: "tracker.io", RequestCount: 4, FirstSeen: t0, LastSeen: t0}},
	}})
	require.NoError(t, h.engine.Load(context.Background()))

	h.engine.Observe(trackerHit("a.com"))
	assert.Equal(t, 1, h.recorder.outcome(OutcomeRecorded))
	assert.Zero(t, h.recorder.outcome(OutcomeFailed))

	rec, ok := h.engine.Record("tracker.io")
	require.True(t, ok)
	assert.Equal(t, 1, rec.SiteCount())
	assert.Equal(t, 5, rec.RequestCount)
}
