// Package metrics exposes Prometheus collectors for the compiler, validator,
// id space, heuristic engine and reconciler. Metrics implements each of
// their Recorder interfaces.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rr_filter"

// Metrics holds every collector.
type Metrics struct {
	CompiledRules      prometheus.Counter
	CompileDuplicates  prometheus.Counter
	CompileErrors      prometheus.Counter
	CompileDuration    prometheus.Histogram
	Validations        *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	RangeUsed          *prometheus.GaugeVec
	RangeSize          *prometheus.GaugeVec
	Events             *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	Tracked            *prometheus.GaugeVec
	Reconciles         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CompiledRules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiled_rules_total",
			Help:      "Rules emitted by the compiler",
		}),
		CompileDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_duplicates_total",
			Help:      "Duplicate rules dropped by the compiler",
		}),
		CompileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_errors_total",
			Help:      "Lines rejected by the compiler",
		}),
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Time taken to compile a filter list",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Ruleset validations by outcome",
		}, []string{"outcome"}),
		ValidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time taken to validate a ruleset",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		RangeUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "id_range_used",
			Help:      "Active rule ids per range",
		}, []string{"range"}),
		RangeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "id_range_size",
			Help:      "Capacity of each id range",
		}, []string{"range"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observed_requests_total",
			Help:      "Requests seen by the heuristic engine by outcome",
		}, []string{"outcome"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Block and unblock decisions of the heuristic engine",
		}, []string{"kind"}),
		Tracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_domains",
			Help:      "Domains known to the heuristic engine by state at the last save",
		}, []string{"state"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Decisions handled by the reconciler by kind and result",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(
		m.CompiledRules, m.CompileDuplicates, m.CompileErrors, m.CompileDuration,
		m.Validations, m.ValidationDuration,
		m.RangeUsed, m.RangeSize,
		m.Events, m.Decisions, m.Tracked,
		m.Reconciles,
	)
	return m
}

// ObserveCompile records one finished compile.
func (m *Metrics) ObserveCompile(rules, duplicates, errors int, elapsed time.Duration) {
	m.CompiledRules.Add(float64(rules))
	m.CompileDuplicates.Add(float64(duplicates))
	m.CompileErrors.Add(float64(errors))
	m.CompileDuration.Observe(elapsed.Seconds())
}

// ObserveValidation records one validation pass.
func (m *Metrics) ObserveValidation(outcome string, elapsed time.Duration) {
	m.Validations.WithLabelValues(outcome).Inc()
	m.ValidationDuration.Observe(elapsed.Seconds())
}

// ObserveRangeUsage records the fill level of an id range.
func (m *Metrics) ObserveRangeUsage(rangeName string, used, size int) {
	m.RangeUsed.WithLabelValues(rangeName).Set(float64(used))
	m.RangeSize.WithLabelValues(rangeName).Set(float64(size))
}

// ObserveEvent counts one observed request.
func (m *Metrics) ObserveEvent(outcome string) {
	m.Events.WithLabelValues(outcome).Inc()
}

// ObserveDecision counts one engine decision.
func (m *Metrics) ObserveDecision(kind string) {
	m.Decisions.WithLabelValues(kind).Inc()
}

// ObserveTracked sets the engine state gauges.
func (m *Metrics) ObserveTracked(records, blocked, allowed int) {
	m.Tracked.WithLabelValues("observed").Set(float64(records))
	m.Tracked.WithLabelValues("blocked").Set(float64(blocked))
	m.Tracked.WithLabelValues("allowed").Set(float64(allowed))
}

// ObserveReconcile counts one reconciler result.
func (m *Metrics) ObserveReconcile(kind, result string) {
	m.Reconciles.WithLabelValues(kind, result).Inc()
}
