package obs

import (
	"net/http"
	"strconv"
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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by resource category, action and outcome.",
		},
		[]string{"category", "action", "outcome"},
	)

	secretDisclosures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secret_disclosures_total",
			Help: "Credential secret disclosures by field.",
		},
		[]string{"field"},
	)

	auditRetryDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_retry_queue_depth",
		Help: "Audit entries waiting for an out-of-band append retry.",
	})

	notifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_dropped_events_total",
		Help: "Outbound events dropped because a subscriber was slow.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDecisions, secretDisclosures, auditRetryDepth, notifyDropped,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthzDecision counts one resolver decision.
func AuthzDecision(category, action string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(category, action, outcome).Inc()
}

// SecretDisclosed counts one successful secret disclosure.
func SecretDisclosed(field string) {
	secretDisclosures.WithLabelValues(field).Inc()
}

// SetAuditRetryDepth records the current audit retry backlog.
func SetAuditRetryDepth(n int) {
	auditRetryDepth.Set(float64(n))
}

// NotifyEventDropped counts one dropped outbound event.
func NotifyEventDropped() {
	notifyDropped.Inc()
}

// Instrument wraps a handler with request counting and latency measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
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

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
