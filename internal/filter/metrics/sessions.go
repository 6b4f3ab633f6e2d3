package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionSource reports session cache counters.
type SessionSource interface {
	Len() int
	Stats() (hits, misses, evictions uint64)
}

// WatchSessions registers collectors read from src at scrape time.
func WatchSessions(reg prometheus.Registerer, src SessionSource) {
	stat := func(pick func(h, m, e uint64) uint64) func() float64 {
		return func() float64 {
			h, m, e := src.Stats()
			return float64(pick(h, m, e))
		}
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sites with session statistics in the cache",
		}, func() float64 { return float64(src.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_hits_total",
			Help:      "Session cache lookups that found a site",
		}, stat(func(h, _, _ uint64) uint64 { return h })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_misses_total",
			Help:      "Session cache lookups that missed",
		}, stat(func(_, m, _ uint64) uint64 { return m })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_evictions_total",
			Help:      "Sites evicted from the session cache",
		}, stat(func(_, _, e uint64) uint64 { return e })),
	)
}
