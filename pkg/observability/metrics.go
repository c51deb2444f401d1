package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing, so services can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AccessDecisionsTotal *prometheus.CounterVec
	PermissionCacheTotal *prometheus.CounterVec

	// Rental metrics
	RentsTotal         *prometheus.CounterVec
	ReturnsTotal       *prometheus.CounterVec
	LateFeesTotal      prometheus.Counter
	OverdueMarkedTotal prometheus.Counter
	ReviewsTotal       *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentshelf_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rentshelf_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentshelf_access_decisions_total",
				Help: "Access decisions by resource, action and outcome",
			},
			[]string{"resource", "action", "decision"},
		),
		PermissionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentshelf_permission_cache_total",
				Help: "Permission action cache lookups by layer and result",
			},
			[]string{"layer", "result"},
		),

		RentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentshelf_rents_total",
				Help: "Rent creation attempts by outcome",
			},
			[]string{"outcome"},
		),
		ReturnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentshelf_returns_total",
				Help: "Book returns by resulting rent status",
			},
			[]string{"status"},
		),
		LateFeesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rentshelf_late_fees_total",
				Help: "Sum of late return fees charged",
			},
		),
		OverdueMarkedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rentshelf_overdue_marked_total",
				Help: "Rent records moved to OVERDUE by the sweep",
			},
		),
		ReviewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentshelf_reviews_total",
				Help: "Review creation attempts by outcome",
			},
			[]string{"outcome"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rentshelf_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rentshelf_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rentshelf_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rentshelf_db_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessDecisionsTotal,
		m.PermissionCacheTotal,
		m.RentsTotal,
		m.ReturnsTotal,
		m.LateFeesTotal,
		m.OverdueMarkedTotal,
		m.ReviewsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// ObserveAccessDecision records the outcome of an access check
func (m *Metrics) ObserveAccessDecision(resource, action string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AccessDecisionsTotal.WithLabelValues(resource, action, decision).Inc()
}

// ObservePermissionCache records a cache lookup; layer is "memory" or "redis"
func (m *Metrics) ObservePermissionCache(layer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheTotal.WithLabelValues(layer, result).Inc()
}

// ObserveRent records a rent creation attempt
func (m *Metrics) ObserveRent(outcome string) {
	if m == nil {
		return
	}
	m.RentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReturn records a completed return and its fee
func (m *Metrics) ObserveReturn(status string, fee float64) {
	if m == nil {
		return
	}
	m.ReturnsTotal.WithLabelValues(status).Inc()
	if fee > 0 {
		m.LateFeesTotal.Add(fee)
	}
}

// ObserveOverdue records records moved to OVERDUE
func (m *Metrics) ObserveOverdue(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.OverdueMarkedTotal.Add(float64(n))
}

// ObserveReview records a review creation attempt
func (m *Metrics) ObserveReview(outcome string) {
	if m == nil {
		return
	}
	m.ReviewsTotal.WithLabelValues(outcome).Inc()
}

// CollectDBStats copies the pool statistics of db into the gauges
func (m *Metrics) CollectDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel uses the mux path template to keep label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
