package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after repeated failed logins.",
	})

	rateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_rejected_total",
		Help: "Requests rejected by the rate limiter.",
	})

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit events that could not be persisted.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, lockoutsTotal, rateLimitRejects, auditWriteFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records a login attempt outcome ("success", "failure", "locked").
func ObserveLogin(outcome string) { loginsTotal.WithLabelValues(outcome).Inc() }

// ObserveLockout records a newly applied account lockout.
func ObserveLockout() { lockoutsTotal.Inc() }

// ObserveRateLimitReject records a rate-limited request.
func ObserveRateLimitReject() { rateLimitRejects.Inc() }

// ObserveAuditWriteFailure records an audit event that failed to persist.
func ObserveAuditWriteFailure() { auditWriteFailures.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses path parameters so metric label cardinality stays bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	// /v1/audit/{entityType}/{entityId} and /v1/apikeys/{id}
	if len(parts) >= 5 && parts[1] == "v1" && parts[2] == "audit" {
		return "/v1/audit/:type/:id"
	}
	if len(parts) == 4 && parts[1] == "v1" && parts[2] == "apikeys" {
		return "/v1/apikeys/:id"
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
