// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts committed ledger operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthpool_operations_total",
		Help: "Total number of committed ledger operations",
	}, []string{"op"})

	// OperationLatency tracks ledger operation latency by kind.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthpool_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// OperationRejections counts operations rejected by a precondition.
	OperationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthpool_operation_rejections_total",
		Help: "Ledger operations rejected by validation",
	}, []string{"op"})

	// LiquidationsTotal counts liquidations by reason.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthpool_liquidations_total",
		Help: "Total liquidations executed",
	}, []string{"reason"})

	// PoolAmount tracks the per-token pool balance.
	PoolAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthpool_pool_amount",
		Help: "Pool balance in token units",
	}, []string{"token"})

	// ReservedAmount tracks the per-token amount reserved for positions.
	ReservedAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthpool_reserved_amount",
		Help: "Token units reserved against open positions",
	}, []string{"token"})

	// StableUnitSupply tracks total outstanding stable units.
	StableUnitSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthpool_stable_unit_supply",
		Help: "Total outstanding stable units",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthpool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthpool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthpool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
