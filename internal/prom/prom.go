// Package prom exposes operational Prometheus metrics for the reward
// pipeline. OTEL covers traces and request metrics; these counters exist for
// scrape-based dashboards and alerting.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hoshu"

// Stats holds the pipeline's Prometheus collectors.
type Stats struct {
	registry *prometheus.Registry

	RewardsComputed  prometheus.Counter
	DatasetsBuilt    prometheus.Counter
	DatasetBuildDur  prometheus.Histogram
	SnapshotsFolded  prometheus.Counter
	PersistenceRetry prometheus.Counter
}

// New creates and registers the pipeline collectors on a private registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	s := &Stats{
		registry: reg,
		RewardsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_computed_total",
			Help:      "Reward records computed across all requests.",
		}),
		DatasetsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_built_total",
			Help:      "Training datasets committed as built.",
		}),
		DatasetBuildDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dataset_build_duration_seconds",
			Help:      "Wall time of dataset builds, including storage writes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		SnapshotsFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_records_folded_total",
			Help:      "Reward records folded into metrics buckets.",
		}),
		PersistenceRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_retries_total",
			Help:      "Store writes that needed the single idempotent retry.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.RewardsComputed,
		s.DatasetsBuilt,
		s.DatasetBuildDur,
		s.SnapshotsFolded,
		s.PersistenceRetry,
	)
	return s
}

// Handler returns the scrape endpoint handler for the private registry.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
