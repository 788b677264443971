// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	SearchResultsCount   prometheus.Histogram
	BucketsYieldedTotal  *prometheus.CounterVec
	ConditionResolutions prometheus.Counter
	ConditionCacheHits   prometheus.Counter

	QueryCacheHitsTotal   prometheus.Counter
	QueryCacheMissesTotal prometheus.Counter

	DocsIndexedTotal  prometheus.Counter
	IndexFlushesTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (ok, zero_result, timeout, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "End-to-end search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of documents returned per search.",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 500, 1000},
			},
		),
		BucketsYieldedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranking_buckets_yielded_total",
				Help: "Total ranking buckets yielded, by ranking rule.",
			},
			[]string{"rule"},
		),
		ConditionResolutions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ranking_condition_resolutions_total",
				Help: "Total external docid resolutions performed for ranking conditions.",
			},
		),
		ConditionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ranking_condition_cache_hits_total",
				Help: "Total condition docids cache hits (no external resolution needed).",
			},
		),
		QueryCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Total Redis query-result cache hits.",
			},
		),
		QueryCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Total Redis query-result cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total in-memory index flushes to the persistent store.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.BucketsYieldedTotal,
		m.ConditionResolutions,
		m.ConditionCacheHits,
		m.QueryCacheHitsTotal,
		m.QueryCacheMissesTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
