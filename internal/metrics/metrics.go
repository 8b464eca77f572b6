// Package metrics provides Prometheus metrics for the competitor
// intelligence backend. Scrape these at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compintel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compintel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Price History Import Metrics
	ImportRowsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compintel_import_rows_accepted_total",
			Help: "Price history rows that passed extraction",
		},
	)

	ImportRowsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compintel_import_rows_dropped_total",
			Help: "Price history rows dropped during extraction",
		},
	)

	ImportFilesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compintel_import_files_failed_total",
			Help: "Uploaded files that could not be read",
		},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compintel_import_duration_seconds",
			Help:    "Time taken to parse and reconcile an upload batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// Knowledge Base Search Metrics
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compintel_search_requests_total",
			Help: "Knowledge base searches by resolution path",
		},
		[]string{"path"}, // "structured", "ai", "ai_fallback"
	)

	SearchResultsCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compintel_search_results_count",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 25, 50},
		},
	)

	// AI Delegate Metrics
	AIRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compintel_ai_requests_total",
			Help: "Total AI delegate requests",
		},
	)

	AIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compintel_ai_errors_total",
			Help: "AI delegate errors by type",
		},
		[]string{"type"}, // "network", "read", "api", "parse", "empty", "quota"
	)

	AILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compintel_ai_latency_seconds",
			Help:    "AI delegate call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	AICacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compintel_ai_cache_hits_total",
			Help: "AI answer cache hit count",
		},
	)

	AIQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compintel_ai_quota_remaining",
			Help: "Remaining AI delegate requests for today",
		},
	)

	// Catalog Metrics
	CatalogProductsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compintel_catalog_products_total",
			Help: "Total number of products in the knowledge base",
		},
	)

	CatalogCompetitorsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compintel_catalog_competitors_total",
			Help: "Total number of tracked competitors",
		},
	)
)
