package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "HTTP requests handled by the edge, by route and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Latency of edge HTTP handlers.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	SecurityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_security_rejections_total",
			Help: "Requests rejected by the security pipeline, by stage.",
		},
		[]string{"stage"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_operations_total",
			Help: "Cache tier operations, by tier and result (hit, miss, set, delete, error, eviction).",
		},
		[]string{"tier", "result"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_token_refresh_total",
			Help: "Token refresh network calls, by outcome.",
		},
		[]string{"outcome"},
	)

	TokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_token_verifications_total",
			Help: "Bearer token verifications, by source (cache, backend) and outcome.",
		},
		[]string{"source", "outcome"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_errors_total",
			Help: "Errors handled by the error handler, by kind and severity.",
		},
		[]string{"kind", "severity"},
	)

	ErrorReportsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_error_reports_dropped_total",
			Help: "Error reports dropped because the report queue was full or publishing failed.",
		},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_backend_requests_total",
			Help: "Outbound calls to the backend API, by method and status class.",
		},
		[]string{"method", "status"},
	)

	ActiveNotificationStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_notification_streams_active",
			Help: "Open server-sent event notification streams.",
		},
	)
)

// ObserveHTTPRequest records one handled request.
func ObserveHTTPRequest(route, method string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// IncrementSecurityRejection counts a rejection at the given pipeline stage.
func IncrementSecurityRejection(stage string) {
	SecurityRejectionsTotal.WithLabelValues(stage).Inc()
}

// IncrementCacheOperation counts a cache tier operation.
func IncrementCacheOperation(tier, result string) {
	CacheOperationsTotal.WithLabelValues(tier, result).Inc()
}

// IncrementTokenRefresh counts a refresh network call.
func IncrementTokenRefresh(outcome string) {
	TokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// IncrementTokenVerification counts a bearer verification.
func IncrementTokenVerification(source, outcome string) {
	TokenVerificationsTotal.WithLabelValues(source, outcome).Inc()
}

// IncrementError counts a handled error.
func IncrementError(kind, severity string) {
	ErrorsTotal.WithLabelValues(kind, severity).Inc()
}

// IncrementErrorReportDropped counts a dropped error report.
func IncrementErrorReportDropped() {
	ErrorReportsDropped.Inc()
}

// IncrementBackendRequest counts an outbound call. status 0 means a transport failure.
func IncrementBackendRequest(method string, status int) {
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	BackendRequestsTotal.WithLabelValues(method, class).Inc()
}

func IncrementNotificationStreams() { ActiveNotificationStreams.Inc() }
func DecrementNotificationStreams() { ActiveNotificationStreams.Dec() }
