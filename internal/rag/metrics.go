package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the retriever. A single
// instance is created per Retriever so tests can inject a fresh
// prometheus.Registry without polluting the default one.
type Metrics struct {
	// cacheHitsTotal counts searches answered from the result cache.
	cacheHitsTotal prometheus.Counter

	// cacheMissesTotal counts searches that went to the vector index.
	cacheMissesTotal prometheus.Counter

	// searchDurationSeconds records the wall-clock duration of uncached
	// searches, embedding included.
	searchDurationSeconds prometheus.Histogram
}

// NewMetrics registers retrieval metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "booksage",
			Subsystem: "retrieval",
			Name:      "cache_hits_total",
			Help:      "Total number of searches served from the result cache.",
		}),

		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "booksage",
			Subsystem: "retrieval",
			Name:      "cache_misses_total",
			Help:      "Total number of searches that required a vector index query.",
		}),

		searchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booksage",
			Subsystem: "retrieval",
			Name:      "search_duration_seconds",
			Help:      "Duration of uncached searches, embedding call included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
