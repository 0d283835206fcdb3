// Package metrics exposes Prometheus instrumentation for the client core:
// API calls by endpoint and outcome, recommendation retries, query cache
// fetch results and invalidations, and session transitions.
//
// Label cardinality stays bounded: endpoint is the route template (e.g.
// "PATCH /reviews/:id"), never the concrete path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch results recorded by the query cache.
const (
	FetchNetwork      = "network"
	FetchDeduplicated = "deduplicated"
	FetchSuperseded   = "superseded"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	retries       prometheus.Counter
	cacheFetches  *prometheus.CounterVec
	invalidations prometheus.Counter
	transitions   *prometheus.CounterVec
}

// New builds the collectors and registers them on reg (when non-nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onebook_client_requests_total",
				Help: "API calls issued by the client, by endpoint and outcome kind.",
			},
			[]string{"endpoint", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onebook_client_request_duration_seconds",
				Help:    "Duration of API calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onebook_recommendation_retries_total",
			Help: "Recommendation fetch attempts beyond the first.",
		}),
		cacheFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onebook_query_cache_fetches_total",
				Help: "Query cache fetch requests by result.",
			},
			[]string{"result"},
		),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onebook_query_cache_invalidations_total",
			Help: "Query cache entries invalidated or removed.",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onebook_session_transitions_total",
				Help: "Session state transitions by target state.",
			},
			[]string{"to"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.latency, m.retries, m.cacheFetches, m.invalidations, m.transitions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveRequest records one API call.
func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.latency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) CacheFetch(result string) {
	if m == nil {
		return
	}
	m.cacheFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) Invalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidations.Add(float64(n))
}

func (m *Metrics) SessionTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}
