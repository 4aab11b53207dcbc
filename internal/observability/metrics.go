package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	EmbedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Total number of embedding provider requests by outcome",
		},
		[]string{"outcome"},
	)
	EmbedRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embedding_request_duration_seconds",
			Help:    "Embedding provider request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	SessionsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_sessions_started_total",
			Help: "Total number of import sessions started by source format",
		},
		[]string{"source"},
	)
	SessionsConfirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "import_sessions_confirmed_total",
			Help: "Total number of import sessions confirmed",
		},
	)
	ExpectationsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expectations_created_total",
			Help: "Total number of catalog expectations created by confirm",
		},
	)
	ExpectationsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expectations_skipped_total",
			Help: "Total number of staged expectations skipped as duplicates",
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search requests by path (vector or fallback)",
		},
		[]string{"path"},
	)
)

// InitMetrics registers all collectors; call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(EmbedRequestsTotal)
	prometheus.MustRegister(EmbedRequestDuration)
	prometheus.MustRegister(SessionsStartedTotal)
	prometheus.MustRegister(SessionsConfirmedTotal)
	prometheus.MustRegister(ExpectationsCreatedTotal)
	prometheus.MustRegister(ExpectationsSkippedTotal)
	prometheus.MustRegister(SearchRequestsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
