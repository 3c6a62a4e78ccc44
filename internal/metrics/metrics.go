// Package metrics provides Prometheus instrumentation for the market engine.
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
	// OrdersTotal counts committed orders, partitioned by side and action.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimdex_orders_total",
		Help: "Total number of orders committed",
	}, []string{"side", "action"})

	// OrderLatency tracks order execution latency.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimdex_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// FeesCollected accumulates fees charged on committed orders.
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimdex_fees_collected_total",
		Help: "Cumulative fees charged, in account currency",
	})

	// QuotaRejections counts orders rejected by the daily cap.
	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimdex_quota_rejections_total",
		Help: "Orders rejected by the daily order cap",
	})

	// SlippageRejections counts orders rejected by slippage bounds.
	SlippageRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimdex_slippage_rejections_total",
		Help: "Orders rejected because the quote moved past the caller's bound",
	})

	// ResolutionsTotal counts market settlements by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimdex_resolutions_total",
		Help: "Markets resolved, by outcome",
	}, []string{"outcome"})

	// VoidsTotal counts voided markets.
	VoidsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimdex_voids_total",
		Help: "Markets voided with trades reversed",
	})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimdex_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimdex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimdex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimdex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// MarketVolume tracks cumulative traded shares per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimdex_market_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id", "side"})
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

		// Use the route pattern for path label to avoid high cardinality.
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
