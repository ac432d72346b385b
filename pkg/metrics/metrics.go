package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quote metrics
	QuoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeswap_quote_requests_total",
			Help: "Total number of quote requests sent to the routing service",
		},
		[]string{"chain", "status"},
	)

	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routeswap_quote_duration_seconds",
			Help:    "Quote request duration in seconds, including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"chain"},
	)

	QuotesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeswap_quotes_discarded_total",
			Help: "Quotes dropped because they were superseded or no longer matched the intent",
		},
		[]string{"reason"},
	)

	// Build metrics
	BuildRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeswap_build_requests_total",
			Help: "Total number of transaction builds",
		},
		[]string{"family", "status"},
	)

	// Execution metrics
	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeswap_executions_total",
			Help: "Terminal execution outcomes",
		},
		[]string{"family", "status", "reason"},
	)

	ConfirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routeswap_confirmation_duration_seconds",
			Help:    "Time from submission to a terminal status",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"family"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeswap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routeswap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "routeswap_active_sessions",
		Help: "Number of open swap sessions served over HTTP",
	})
)
