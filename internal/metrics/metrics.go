package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewire_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livewire_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ShellSessions tracks live shell sessions in this worker's registry
	ShellSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livewire_shell_sessions",
			Help: "Number of live shell sessions in the local registry",
		},
	)

	// StreamConnections tracks open SSE connections by stream kind
	StreamConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livewire_stream_connections",
			Help: "Number of open SSE connections",
		},
		[]string{"kind"},
	)

	// StreamDuration tracks how long SSE connections stay open
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livewire_stream_duration_seconds",
			Help:    "SSE connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind", "outcome"},
	)

	// ReaderPreemptions counts reader slot takeovers
	ReaderPreemptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livewire_reader_preemptions_total",
			Help: "Total number of shell reader preemptions",
		},
	)

	// SessionRecreations counts sessions transparently recreated on write
	SessionRecreations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livewire_session_recreations_total",
			Help: "Total number of shell sessions recreated by the write path",
		},
	)

	// CheckpointOps counts checkpoint store operations
	CheckpointOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewire_checkpoint_ops_total",
			Help: "Total number of checkpoint store operations",
		},
		[]string{"op", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses session ids out of paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/metrics":
		return path
	}
	if strings.HasPrefix(path, "/api/sessions/") {
		rest := path[len("/api/sessions/"):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return "/api/sessions/{id}/" + rest[idx+1:]
		}
		return "/api/sessions/{id}"
	}
	return "other"
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStreamOpen increments the open connection gauge for a stream kind
func RecordStreamOpen(kind string) {
	StreamConnections.WithLabelValues(kind).Inc()
}

// RecordStreamClose decrements the gauge and records duration
func RecordStreamClose(kind, outcome string, durationSeconds float64) {
	StreamConnections.WithLabelValues(kind).Dec()
	StreamDuration.WithLabelValues(kind, outcome).Observe(durationSeconds)
}

// RecordCheckpointOp records a checkpoint store operation
func RecordCheckpointOp(op, status string) {
	CheckpointOps.WithLabelValues(op, status).Inc()
}
