// Package metrics provides Prometheus instrumentation for the Lotline platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lotline",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowTransitionsTotal counts escrow state transitions by action.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "escrow_transitions_total",
			Help:      "Total escrow state transitions by action.",
		},
		[]string{"action"},
	)

	// EscrowConflictsTotal counts lost optimistic-concurrency races.
	EscrowConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "escrow_conflicts_total",
			Help:      "Total escrow updates that lost an optimistic-concurrency race.",
		},
	)

	// GatewayCallsTotal counts payment gateway calls by operation and result.
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "gateway_calls_total",
			Help:      "Total payment gateway calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// GatewayCallDuration observes payment gateway latency by operation.
	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lotline",
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SweepRunsTotal counts auto-release sweep ticks.
	SweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "sweep_runs_total",
			Help:      "Total auto-release sweep ticks.",
		},
	)

	// SweepReleasesTotal counts records auto-released by the sweep.
	SweepReleasesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "sweep_releases_total",
			Help:      "Total escrows auto-released by the deadline sweep.",
		},
	)

	// SweepExpiriesTotal counts never-funded records expired by the sweep.
	SweepExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lotline",
			Name:      "sweep_expiries_total",
			Help:      "Total never-funded escrows expired by the deadline sweep.",
		},
	)

	// EscrowSettleDuration observes time from escrow creation to completion.
	EscrowSettleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lotline",
			Name:      "escrow_settle_duration_seconds",
			Help:      "Time from escrow creation to completion in seconds.",
			Buckets:   []float64{60, 600, 3600, 21600, 86400, 259200, 604800},
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lotline",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lotline", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lotline", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lotline", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowTransitionsTotal,
		EscrowConflictsTotal,
		GatewayCallsTotal,
		GatewayCallDuration,
		SweepRunsTotal,
		SweepReleasesTotal,
		SweepExpiriesTotal,
		EscrowSettleDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
