package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const routeLabelKey ctxKey = "metrics_route"

// WithRoute labels background work (e.g. MQTT handlers) so DB latency is
// attributed to it.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeLabelKey, route)
}

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialer_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialer_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	liveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialer_live_calls",
		Help: "Number of calls currently in the live set.",
	})

	callAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_call_admissions_total",
		Help: "Newly reported calls by admission outcome.",
	}, []string{"result"})

	callCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_call_commands_total",
		Help: "Commands sent to the handset by action and outcome.",
	}, []string{"action", "status"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter.",
	}, []string{"limiter"})

	lookupCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_lookup_cache_total",
		Help: "Caller lookup cache hits and misses.",
	}, []string{"result"})
)

// Middleware records request metrics and enriches the context with labels for downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// chi resolves the pattern while routing, so read it afterwards.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			method := r.Method
			duration := time.Since(start).Seconds()
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(method, route).Inc()
			httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records database latency for a given operation, associating it with request labels when available.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	route := routeFromContext(ctx)
	dbLatency.WithLabelValues(operation, route).Observe(time.Since(start).Seconds())
}

// SetLiveCalls reports the size of the live call set.
func SetLiveCalls(n int) {
	liveCalls.Set(float64(n))
}

// ObserveAdmission counts the admission outcome of a newly reported call.
func ObserveAdmission(result string) {
	callAdmissions.WithLabelValues(result).Inc()
}

// ObserveCommand counts a command sent to the handset.
func ObserveCommand(action string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	callCommands.WithLabelValues(action, status).Inc()
}

// ObserveRateLimited counts a request refused by a named limiter.
func ObserveRateLimited(limiter string) {
	rateLimited.WithLabelValues(limiter).Inc()
}

// ObserveLookup counts a caller lookup cache hit or miss.
func ObserveLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	lookupCache.WithLabelValues(result).Inc()
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

// routePattern keeps label cardinality bounded: unmatched paths share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
