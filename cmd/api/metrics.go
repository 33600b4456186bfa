package main

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process level metrics for the marketplace API. Domain metrics go through
// the OpenTelemetry registry in internal/metrics.

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	// Realtime metrics
	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections",
		},
	)

	notificationRetriesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "retries_pending",
			Help:      "Notifications waiting in the retry queue",
		},
	)

	notificationRetriesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "retries_delivered_total",
			Help:      "Notifications delivered from the retry queue",
		},
	)

	// Database metrics
	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "db",
			Name:      "connection_pool_size",
			Help:      "Database connection pool size",
		},
		[]string{"state"},
	)

	dbConnectionPoolMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "db",
			Name:      "connection_pool_max",
			Help:      "Maximum database connections",
		},
	)
)

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// InstrumentHTTPHandler wraps an HTTP handler with metrics collection
func InstrumentHTTPHandler(handlerName string, handler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		handler.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := statusCodeClass(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, handlerName, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, handlerName).Observe(duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// statusCodeClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// UpdateWSConnections adjusts the websocket connection gauge
func UpdateWSConnections(delta int) {
	wsConnections.Add(float64(delta))
}

// UpdateRetryMetrics records one drain of the notification retry queue
func UpdateRetryMetrics(delivered int, pending int64) {
	notificationRetriesDelivered.Add(float64(delivered))
	notificationRetriesPending.Set(float64(pending))
}

// UpdateDBConnectionPoolMetrics updates database connection pool metrics
func UpdateDBConnectionPoolMetrics(stat *pgxpool.Stat) {
	dbConnectionPoolSize.WithLabelValues("active").Set(float64(stat.AcquiredConns()))
	dbConnectionPoolSize.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	dbConnectionPoolSize.WithLabelValues("total").Set(float64(stat.TotalConns()))
	dbConnectionPoolMax.Set(float64(stat.MaxConns()))
}
