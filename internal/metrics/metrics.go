// Package metrics exposes the prometheus instruments for the daemon.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VastResolveDuration tracks whole-chain ad tag resolution latency.
	VastResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playgate_vast_resolve_duration_seconds",
		Help:    "Time taken to resolve a VAST tag including wrapper recursion",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"slot", "outcome"})

	// ProxyRequestsTotal tracks secure playlist proxy outcomes.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playgate_proxy_requests_total",
		Help: "Secure proxy requests by result (ok, rewritten, forbidden, bad_target, disabled, upstream_error)",
	}, []string{"result"})

	// ProxyRewrittenLines counts manifest lines replaced with proxy tokens.
	ProxyRewrittenLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playgate_proxy_rewritten_lines_total",
		Help: "Manifest lines rewritten to proxy tokens",
	})

	// SourceFetchDuration tracks per-provider aggregation latency.
	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playgate_source_fetch_duration_seconds",
		Help:    "Upstream provider query latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"provider", "success"})

	// BeaconsTotal tracks fire-and-forget tracking beacon dispatches.
	BeaconsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playgate_tracking_beacons_total",
		Help: "Tracking beacons dispatched by event and delivery result",
	}, []string{"event", "delivered"})

	// HTTPRequestDuration tracks ingress latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playgate_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route pattern and status",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route", "status"})

	// CacheOpsTotal tracks result-cache effectiveness.
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playgate_cache_ops_total",
		Help: "Cache operations by backend and result (hit, miss, set, error)",
	}, []string{"backend", "result"})
)

// ObserveVastResolve records one resolution attempt.
func ObserveVastResolve(slot, outcome string, duration time.Duration) {
	VastResolveDuration.WithLabelValues(slot, outcome).Observe(duration.Seconds())
}

// IncProxyRequest records a secure proxy request outcome.
func IncProxyRequest(result string) {
	ProxyRequestsTotal.WithLabelValues(result).Inc()
}

// AddProxyRewrittenLines records how many lines one rewrite replaced.
func AddProxyRewrittenLines(n int) {
	ProxyRewrittenLines.Add(float64(n))
}

// ObserveSourceFetch records one provider query.
func ObserveSourceFetch(provider string, success bool, duration time.Duration) {
	SourceFetchDuration.WithLabelValues(provider, strconv.FormatBool(success)).Observe(duration.Seconds())
}

// IncBeacon records one tracking beacon dispatch.
func IncBeacon(event string, delivered bool) {
	BeaconsTotal.WithLabelValues(event, strconv.FormatBool(delivered)).Inc()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// IncCacheOp records a cache operation.
func IncCacheOp(backend, result string) {
	CacheOpsTotal.WithLabelValues(backend, result).Inc()
}
