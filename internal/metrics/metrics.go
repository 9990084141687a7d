// Package metrics provides Prometheus instrumentation for the contest engine.
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
	// TradesTotal counts executed trades, partitioned by type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contest_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// TradeLatency tracks trade execution latency in seconds.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contest_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeRejections counts trades rejected at validation, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contest_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// ContestsJoined counts successful contest joins.
	ContestsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contest_joins_total",
		Help: "Total successful contest joins",
	})

	// LiveContests tracks contests currently in the trading window.
	LiveContests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contest_live_contests",
		Help: "Number of contests currently LIVE",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PriceTicks counts published price feed rounds.
	PriceTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contest_price_ticks_total",
		Help: "Price feed rounds published",
	})

	// LeaderboardDeltas counts leaderboard delta messages published.
	LeaderboardDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contest_leaderboard_deltas_total",
		Help: "Leaderboard delta messages published",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contest_http_request_duration_seconds",
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
