// Package metrics registers the Prometheus collectors for imports,
// availability toggles and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Import run outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeFetchError = "fetch_error"
	OutcomeStoreError = "store_error"
	OutcomeBusy       = "busy"
	OutcomeCancelled  = "cancelled"
)

var (
	// ImportRuns counts import job runs by outcome.
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "th_import_runs_total",
			Help: "Import job runs by outcome.",
		},
		[]string{"outcome"},
	)

	// ImportRows counts imported CSV rows by result (succeeded or failed).
	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "th_import_rows_total",
			Help: "CSV rows processed by the import job.",
		},
		[]string{"result"},
	)

	// ImportDuration observes how long an import run takes.
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "th_import_duration_seconds",
			Help:    "Duration of import job runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AvailabilityToggles counts applied availability changes by new status.
	AvailabilityToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "th_availability_toggles_total",
			Help: "Availability toggles written to the record store.",
		},
		[]string{"status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "th_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "th_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and durations. The path label is the
// matched chi route pattern so record IDs do not blow up cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
