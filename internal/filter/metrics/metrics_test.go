package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/services/compiler"
	"github.com/haukened/rr-filter/internal/filter/services/heuristic"
	"github.com/haukened/rr-filter/internal/filter/services/idspace"
	"github.com/haukened/rr-filter/internal/filter/services/reconciler"
	"github.com/haukened/rr-filter/internal/filter/services/validator"
)

var (
	_ compiler.Recorder   = (*Metrics)(nil)
	_ validator.Recorder  = (*Metrics)(nil)
	_ idspace.Recorder    = (*Metrics)(nil)
	_ heuristic.Recorder  = (*Metrics)(nil)
	_ reconciler.Recorder = (*Metrics)(nil)
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCompile(10, 2, 1, 50*time.Millisecond)
	m.ObserveCompile(5, 0, 0, 10*time.Millisecond)
	assert.Equal(t, 15.0, testutil.ToFloat64(m.CompiledRules))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CompileDuplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompileErrors))

	m.ObserveValidation("valid", time.Millisecond)
	m.ObserveValidation("invalid", time.Millisecond)
	m.ObserveValidation("valid", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Validations.WithLabelValues("valid")))

	m.ObserveRangeUsage("adaptive", 3, 90000)
	m.ObserveRangeUsage("adaptive", 2, 90000)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RangeUsed.WithLabelValues("adaptive")))
	assert.Equal(t, 90000.0, testutil.ToFloat64(m.RangeSize.WithLabelValues("adaptive")))

	m.ObserveEvent(heuristic.OutcomeRecorded)
	m.ObserveEvent(heuristic.OutcomeRecorded)
	m.ObserveDecision("block")
	m.ObserveTracked(7, 2, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("recorded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("block")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Tracked.WithLabelValues("blocked")))

	m.ObserveReconcile("block", reconciler.ResultApplied)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciles.WithLabelValues("block", "applied")))
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

type sessionSource struct{}

func (sessionSource) Len() int                        { return 4 }
func (sessionSource) Stats() (uint64, uint64, uint64) { return 10, 3, 1 }

func TestWatchSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	WatchSessions(reg, sessionSource{})
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	expected := `
# HELP rr_filter_session_cache_evictions_total Sites evicted from the session cache
# TYPE rr_filter_session_cache_evictions_total counter
rr_filter_session_cache_evictions_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rr_filter_session_cache_evictions_total"))
}

func TestServerHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveDecision("block")
	srv := NewServer("127.0.0.1:0", reg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rr_filter_decisions_total{kind="block"} 1`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRun(t *testing.T) {
	srv := NewServer("127.0.0.1:0", prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

