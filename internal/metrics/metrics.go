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
	// TradesTotal counts trades executed, partitioned by direction.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddsmith_trades_total",
		Help: "Total number of trades executed",
	}, []string{"direction"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oddsmith_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// TradeRejections counts trades rejected before the ledger append.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddsmith_trade_rejections_total",
		Help: "Trades rejected by validation, state, or risk checks",
	}, []string{"reason"})

	// SettlementsTotal counts settlement actions by result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddsmith_settlements_total",
		Help: "Settlement actions by result (settled, resettled, voided, noop)",
	}, []string{"result"})

	// PayoutTotal accumulates settlement payout currency per market.
	PayoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddsmith_settlement_payout_total",
		Help: "Cumulative settlement payout amount",
	}, []string{"market_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oddsmith_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oddsmith_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oddsmith_http_request_duration_seconds",
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
