// Package metrics exposes Prometheus instrumentation for the voice gateway.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Live session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	AudioBytesTotal *prometheus.CounterVec

	// Call and turn metrics
	CallsTotal           *prometheus.CounterVec
	CallsEndedTotal      *prometheus.CounterVec
	TurnsTotal           prometheus.Counter
	BargeInsTotal        prometheus.Counter
	WatchdogFiresTotal   prometheus.Counter
	SynthesisErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with every gateway metric registered
// on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "parley"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.05, 0.5, 1, 5, 30, 60, 600},
		},
		[]string{"path"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live WebSocket sessions currently open",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live WebSocket sessions by terminal status",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live WebSocket session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes relayed over live sessions",
		},
		[]string{"direction"},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total calls started, by trigger",
		},
		[]string{"trigger"},
	)

	callsEndedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total calls ended, by reason",
		},
		[]string{"reason"},
	)

	turnsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total conversation turns submitted to the backend",
		},
	)

	bargeInsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total assistant playbacks interrupted by the user",
		},
	)

	watchdogFiresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_fires_total",
			Help:      "Total watchdog activations after a turn produced no playback",
		},
	)

	synthesisErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_errors_total",
			Help:      "Total speech synthesis failures, by class",
		},
		[]string{"class"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioBytesTotal,
		callsTotal,
		callsEndedTotal,
		turnsTotal,
		bargeInsTotal,
		watchdogFiresTotal,
		synthesisErrorsTotal,
	)

	return &Metrics{
		registry:             registry,
		RequestsTotal:        requestsTotal,
		RequestDuration:      requestDuration,
		SessionsActive:       sessionsActive,
		SessionsTotal:        sessionsTotal,
		SessionDuration:      sessionDuration,
		AudioBytesTotal:      audioBytesTotal,
		CallsTotal:           callsTotal,
		CallsEndedTotal:      callsEndedTotal,
		TurnsTotal:           turnsTotal,
		BargeInsTotal:        bargeInsTotal,
		WatchdogFiresTotal:   watchdogFiresTotal,
		SynthesisErrorsTotal: synthesisErrorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records count and latency for every request passing through.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)
		m.RecordRequest(r.Method, r.URL.Path, rw.StatusString(), time.Since(start))
	})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordSessionStart records a live session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a live session closing.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordAudio records relayed audio bytes. Direction is "in" for mic
// frames and "out" for synthesized clips.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordCallStart records a call starting.
func (m *Metrics) RecordCallStart(trigger string) {
	m.CallsTotal.WithLabelValues(trigger).Inc()
}

// RecordCallEnd records a call ending.
func (m *Metrics) RecordCallEnd(reason string) {
	m.CallsEndedTotal.WithLabelValues(reason).Inc()
}

// RecordTurn records a turn submitted to the conversation backend.
func (m *Metrics) RecordTurn() {
	m.TurnsTotal.Inc()
}

// RecordBargeIn records the user interrupting assistant playback.
func (m *Metrics) RecordBargeIn() {
	m.BargeInsTotal.Inc()
}

// RecordWatchdogFire records a watchdog activation.
func (m *Metrics) RecordWatchdogFire() {
	m.WatchdogFiresTotal.Inc()
}

// RecordSynthesisError records a classified synthesis failure.
func (m *Metrics) RecordSynthesisError(class string) {
	m.SynthesisErrorsTotal.WithLabelValues(class).Inc()
}

// ResponseWriter wraps http.ResponseWriter to capture status code and size.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int
}

// NewResponseWriter creates a new ResponseWriter.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}

// Flush implements http.Flusher.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so WebSocket upgrades work through
// the middleware chain.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// StatusString returns the status code as a string.
func (rw *ResponseWriter) StatusString() string {
	return strconv.Itoa(rw.StatusCode)
}
