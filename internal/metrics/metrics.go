// Package metrics provides Prometheus instrumentation for scoreguard.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts ops HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scoreguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ObservationsTotal counts observations handed to session engines by outcome.
	ObservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreguard",
			Name:      "observations_total",
			Help:      "Total score observations by outcome (accepted, clamped, rejected).",
		},
		[]string{"outcome"},
	)

	// FlagsRaisedTotal counts heuristic findings by kind and level.
	FlagsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreguard",
			Name:      "flags_raised_total",
			Help:      "Total flags raised by analysis passes, by kind and risk level.",
		},
		[]string{"kind", "level"},
	)

	// SessionsBlockedTotal counts sessions that reached Critical.
	SessionsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scoreguard",
		Name:      "sessions_blocked_total",
		Help:      "Total sessions whose block decision flipped to true.",
	})

	// SessionsOpenedTotal counts sessions opened on the tracker.
	SessionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scoreguard",
		Name:      "sessions_opened_total",
		Help:      "Total sessions opened.",
	})

	// SessionsClosedTotal counts closed sessions by reason (closed, idle).
	SessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreguard",
			Name:      "sessions_closed_total",
			Help:      "Total sessions closed by reason.",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks sessions currently held by the tracker.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scoreguard",
			Name:      "active_sessions",
			Help:      "Number of sessions currently tracked.",
		},
	)

	// AnalysisDuration observes the time spent ingesting one observation.
	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scoreguard",
		Name:      "analysis_duration_seconds",
		Help:      "Time to record an observation and re-run all heuristics.",
		Buckets:   []float64{0.000005, 0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ObservationsTotal,
		FlagsRaisedTotal,
		SessionsBlockedTotal,
		SessionsOpenedTotal,
		SessionsClosedTotal,
		ActiveSessions,
		AnalysisDuration,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
