// Package metrics exposes the Prometheus instrumentation for quiver.
// Metrics are registered through promauto, so importing the package is
// enough to make them available on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts processed requests, labeled by method,
	// route pattern, and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures server response time. Buckets span
	// sub-millisecond lookups up to multi-second bulk index builds.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quiver_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// TotalVectors tracks the active vector count per index.
	TotalVectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quiver_vectors_total",
			Help: "Total number of indexed vectors",
		},
		[]string{"index_name"},
	)

	// SearchesTotal counts k-nearest-neighbor queries per index.
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_searches_total",
			Help: "Total number of vector similarity searches",
		},
		[]string{"index_name"},
	)
)
