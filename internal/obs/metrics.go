package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
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

	queryDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_query_denials_total",
			Help: "Cross-tenant query denials by error code.",
		},
		[]string{"code"},
	)

	queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_query_execution_seconds",
		Help:    "Wall-clock duration of executed cross-tenant queries.",
		Buckets: prometheus.DefBuckets,
	})

	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_records_dropped_total",
		Help: "Audit records dropped because the recorder buffer was full or the write failed.",
	})
)

// Init registers metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		queryDenials, queryDuration, auditDropped,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDenial counts a pipeline denial under its machine-readable code.
func ObserveDenial(code string) {
	queryDenials.WithLabelValues(code).Inc()
}

// ObserveQueryDuration records the duration of a successful execution.
func ObserveQueryDuration(d time.Duration) {
	queryDuration.Observe(d.Seconds())
}

// ObserveAuditDrop counts a lost audit record.
func ObserveAuditDrop() {
	auditDropped.Inc()
}

// Instrument wraps a handler with request counters and latency histograms.
// The path label uses the chi route pattern so cardinality stays bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
