package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Metrics instruments the request manager and the result cache.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	submitted    *prometheus.CounterVec
	deduplicated prometheus.Counter
	finished     *prometheus.CounterVec
	evicted      prometheus.Counter
	running      prometheus.Gauge
	queued       prometheus.Gauge
	duration     prometheus.Histogram
	cacheLookups *prometheus.CounterVec
}

// NewMetrics registers the engine metrics with r. A nil r registers
// nothing but still returns usable collectors.
func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		submitted: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "deepblue_requests_submitted_total",
			Help: "Total number of requests created, by operation.",
		}, []string{"operation"}),
		deduplicated: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "deepblue_requests_deduplicated_total",
			Help: "Total number of submissions answered by an existing request.",
		}),
		finished: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "deepblue_requests_finished_total",
			Help: "Total number of requests reaching a terminal state, by state.",
		}, []string{"state"}),
		evicted: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "deepblue_requests_evicted_total",
			Help: "Total number of requests removed by the eviction sweep.",
		}),
		running: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "deepblue_requests_running",
			Help: "Number of requests currently executing.",
		}),
		queued: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "deepblue_requests_queued",
			Help: "Number of requests waiting for a worker.",
		}),
		duration: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "deepblue_request_duration_seconds",
			Help:    "Time taken to execute a request.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "deepblue_cache_lookups_total",
			Help: "Total number of result cache lookups, by table and outcome.",
		}, []string{"table", "outcome"}),
	}
}

func (m *Metrics) requestSubmitted(op Operation) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) requestDeduplicated() {
	if m == nil {
		return
	}
	m.deduplicated.Inc()
}

func (m *Metrics) requestFinished(state ir.RequestState, took time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(string(state)).Inc()
	if took > 0 {
		m.duration.Observe(took.Seconds())
	}
}

func (m *Metrics) requestsEvicted(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) setRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

func (m *Metrics) cacheLookup(table string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(table, outcome).Inc()
}
