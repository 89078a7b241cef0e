package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Player metrics
	SessionsActive prometheus.Gauge
	SessionsOpened *prometheus.CounterVec
	ContentLoads   *prometheus.CounterVec

	// Bridge metrics
	BridgeMessages  *prometheus.CounterVec
	BridgeDiscarded *prometheus.CounterVec

	// LMS metrics
	LMSCalls    *prometheus.CounterVec
	LMSDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health view
type Snapshot struct {
	TotalRequests  int64 `json:"total_requests"`
	TotalErrors    int64 `json:"total_errors"`
	ActiveSessions int64 `json:"active_sessions"`
	BridgeMessages int64 `json:"bridge_messages"`
	Discarded      int64 `json:"discarded"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scormhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scormhost_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scormhost_runtime_sessions_active",
				Help: "Number of live runtime sessions",
			},
		),
		SessionsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_runtime_sessions_opened_total",
				Help: "Runtime sessions opened, by how they were opened",
			},
			[]string{"reason"},
		),
		ContentLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_content_loads_total",
				Help: "Sandboxed content loads by outcome",
			},
			[]string{"outcome"},
		),

		BridgeMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_bridge_messages_total",
				Help: "Bridge messages accepted by the host, by type",
			},
			[]string{"type"},
		),
		BridgeDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_bridge_discarded_total",
				Help: "Bridge messages discarded, by reason",
			},
			[]string{"reason"},
		),

		LMSCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_lms_calls_total",
				Help: "Calls to the LMS API",
			},
			[]string{"operation", "status"},
		),
		LMSDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scormhost_lms_call_duration_seconds",
				Help:    "LMS API call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scormhost_ws_connections",
				Help: "Number of active bridge relay connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scormhost_ws_messages_total",
				Help: "Relay WebSocket messages",
			},
			[]string{"direction"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scormhost_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if respSize > 0 {
		m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SessionOpened records a new runtime session.
func (m *Metrics) SessionOpened(reason string) {
	m.SessionsOpened.WithLabelValues(reason).Inc()
	m.SessionsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionClosed records a torn down runtime session.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// ContentLoad records a load outcome: loaded, failed, retried or external.
func (m *Metrics) ContentLoad(outcome string) {
	m.ContentLoads.WithLabelValues(outcome).Inc()
}

// BridgeMessage records an accepted bridge message.
func (m *Metrics) BridgeMessage(msgType string) {
	m.BridgeMessages.WithLabelValues(msgType).Inc()
	m.mu.Lock()
	m.snapshot.BridgeMessages++
	m.mu.Unlock()
}

// BridgeDiscard records a dropped or rejected bridge message.
func (m *Metrics) BridgeDiscard(reason string) {
	m.BridgeDiscarded.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.Discarded++
	m.mu.Unlock()
}

// ObserveLMSCall records one LMS API call.
func (m *Metrics) ObserveLMSCall(operation, status string, duration time.Duration) {
	m.LMSCalls.WithLabelValues(operation, status).Inc()
	m.LMSDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWSMessage records a relay WebSocket message
func (m *Metrics) RecordWSMessage(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns current values for the health endpoint.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeDuration returns time since the collector was created.
func (m *Metrics) UptimeDuration() time.Duration {
	return time.Since(m.startTime)
}
