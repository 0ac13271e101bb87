// Package metrics provides Prometheus instrumentation for the transfer market.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ListingsCreated counts players put up for sale.
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_listings_created_total",
		Help: "Total number of players listed on the transfer market",
	})

	// TransfersCompleted counts completed purchases.
	TransfersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_transfers_completed_total",
		Help: "Total number of completed player transfers",
	})

	// TransferVolume accumulates the money moved by completed transfers.
	TransferVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_transfer_volume_total",
		Help: "Cumulative transfer fees paid",
	})

	// MarketRejections counts List/Buy calls refused, by operation and reason.
	MarketRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_market_rejections_total",
		Help: "Market operations rejected, by reason",
	}, []string{"op", "reason"})

	// OperationLatency tracks List/Buy latency including the storage commit.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fm_market_operation_latency_seconds",
		Help:    "Market operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// ActiveListings is the size of the listing feed at the last read.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fm_active_listings",
		Help: "Number of players currently for sale",
	})

	// TeamsRegistered counts teams created at registration.
	TeamsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_teams_registered_total",
		Help: "Total number of teams registered",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fm_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by the matched chi pattern (e.g. /players/{playerID})
// so ids do not blow up label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return hj.Hijack()
}
