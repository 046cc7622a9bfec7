package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// latencyBuckets spans 1ms to 1s: routing is expected to finish within a few
// agent-call timeouts.
var latencyBuckets = []float64{0.001, 0.0025, 0.005, 0.0075, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

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

	IngressTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_ingress_total",
			Help: "Total number of newly admitted messages by kind",
		},
		[]string{"type"},
	)
	LatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_latency_seconds",
			Help:    "Routing pipeline stage latency in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"operation", "kind"},
	)
	DownstreamSuccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_downstream_success_total",
			Help: "Total number of successful downstream agent calls",
		},
		[]string{"service"},
	)
	DownstreamFailTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_downstream_fail_total",
			Help: "Total number of failed downstream agent calls",
		},
		[]string{"service", "reason"},
	)
	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_dlq_total",
			Help: "Total number of dead-lettered messages by reason",
		},
		[]string{"reason"},
	)
	ReplayRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_replay_runs_total",
			Help: "Total number of DLQ replay runs",
		},
		[]string{"mode"},
	)
	ReplayItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_replay_items_total",
			Help: "Total number of DLQ items processed by replay",
		},
		[]string{"mode", "outcome"},
	)
	ReplayRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_replay_rate_limited_total",
			Help: "Total number of replay runs rejected because another run was active",
		},
	)
	RejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_rejected_total",
			Help: "Total number of rejected requests by reason",
		},
		[]string{"reason"},
	)
	DLQBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlq_backlog",
			Help: "Current number of rows in the DLQ",
		},
	)
	CircuitBreakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips per agent",
		},
		[]string{"service"},
	)
	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_retry_attempts_total",
			Help: "Retry executor attempts and outcomes per agent",
		},
		[]string{"service", "status"},
	)
	AgentHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_agent_health",
			Help: "Last observed downstream agent health (1 healthy, 0 not)",
		},
		[]string{"service"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(IngressTotal)
		prometheus.MustRegister(LatencySeconds)
		prometheus.MustRegister(DownstreamSuccessTotal)
		prometheus.MustRegister(DownstreamFailTotal)
		prometheus.MustRegister(DLQTotal)
		prometheus.MustRegister(ReplayRunsTotal)
		prometheus.MustRegister(ReplayItemsTotal)
		prometheus.MustRegister(ReplayRateLimitedTotal)
		prometheus.MustRegister(RejectedTotal)
		prometheus.MustRegister(DLQBacklog)
		prometheus.MustRegister(CircuitBreakerTripsTotal)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(AgentHealth)
	})
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
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveLatency records one pipeline stage duration.
func ObserveLatency(operation, kind string, d time.Duration) {
	LatencySeconds.WithLabelValues(operation, kind).Observe(d.Seconds())
}

// RecordIngress counts a newly admitted message.
func RecordIngress(kind string) {
	IngressTotal.WithLabelValues(kind).Inc()
}

// RecordRejection counts a rejected request (rate_limit, duplicate, auth).
func RecordRejection(reason string) {
	RejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ counts a dead-lettered message.
func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

// SetAgentHealth records the latest downstream health probe result.
func SetAgentHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	AgentHealth.WithLabelValues(service).Set(v)
}
