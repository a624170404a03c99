package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tide_data"

// Metrics holds the Prometheus collectors for fetching, repair, prefetch and
// refresh cycles.
type Metrics struct {
	// Fetcher metrics.
	FetchAttempts *prometheus.CounterVec   // labels: domain, outcome={success,timeout,http_status,transport,decode}
	FetchResults  *prometheus.CounterVec   // labels: domain, result={success,exhausted}
	FetchDuration *prometheus.HistogramVec // labels: domain

	// Cache maintenance.
	CacheRepairs  *prometheus.CounterVec // labels: domain, result={repaired,failed}
	PrefetchRuns  *prometheus.CounterVec // labels: domain, result={complete,fetched,failed,skipped}
	PrunedEntries *prometheus.CounterVec // labels: domain

	// Refresh cycles.
	CycleDuration *prometheus.HistogramVec // labels: harbor
	CycleResults  *prometheus.CounterVec   // labels: harbor, result={published,failed}
	ViewStale     *prometheus.GaugeVec     // labels: harbor
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Upstream request attempts by domain and outcome.",
		}, []string{"domain", "outcome"}),
		FetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_results_total",
			Help:      "Logical fetches by domain and final result.",
		}, []string{"domain", "result"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_attempt_duration_seconds",
			Help:      "Duration of a single upstream request attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"domain"}),
		CacheRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_repairs_total",
			Help:      "Harbor entries discarded and re-fetched after failing validation.",
		}, []string{"domain", "result"}),
		PrefetchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_runs_total",
			Help:      "Prefetch passes by domain and result.",
		}, []string{"domain", "result"}),
		PrunedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_entries_total",
			Help:      "Cached dates removed by retention rules.",
		}, []string{"domain"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a refresh cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
		}, []string{"harbor"}),
		CycleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Refresh cycles by harbor and result.",
		}, []string{"harbor", "result"}),
		ViewStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_stale",
			Help:      "1 when the published view is older than the last failed cycle.",
		}, []string{"harbor"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchAttempts,
		m.FetchResults,
		m.FetchDuration,
		m.CacheRepairs,
		m.PrefetchRuns,
		m.PrunedEntries,
		m.CycleDuration,
		m.CycleResults,
		m.ViewStale,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
