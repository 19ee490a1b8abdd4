package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presence"

// Metrics holds all application metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	conflicts       prometheus.Counter
	transitionTime  prometheus.Histogram
	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	flushes         *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	cacheErrors     *prometheus.CounterVec
	trackedAgents   prometheus.Gauge
	agentsByStatus  *prometheus.GaugeVec
	wsConnections   prometheus.Gauge
	wsConnects      prometheus.Counter
	wsDisconnects   prometheus.Counter
	wsMessages      *prometheus.CounterVec
	wsDropped       prometheus.Counter
	pauseAlerts     prometheus.Counter
	telephony       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	activeConnCount int64
	mu              sync.Mutex
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an independent metrics set. Tests use it to avoid the shared registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total",
			Help: "Committed status transitions by target status.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transition_conflicts_total",
			Help: "Transitions that hit lock or constraint contention.",
		}),
		transitionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "transition_duration_seconds",
			Help:    "Time to commit a transition, lock wait included.",
			Buckets: prometheus.DefBuckets,
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accumulator_ticks_total",
			Help: "Accumulator tick cycles.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "accumulator_tick_duration_seconds",
			Help:    "Duration of one tick over all tracked agents.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "accumulator_flushes_total",
			Help: "Per-agent flushes into the durable store by result.",
		}, []string{"result"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "accumulator_flush_duration_seconds",
			Help:    "Duration of one flush cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metrics_cache_errors_total",
			Help: "Metrics cache operations that failed.",
		}, []string{"op"}),
		trackedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accumulator_tracked_agents",
			Help: "Agents with an active work session being ticked.",
		}),
		agentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "agents_by_status",
			Help: "Agents per current status.",
		}, []string{"status"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
			Help: "Open realtime connections.",
		}),
		wsConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_connects_total",
			Help: "Accepted realtime connections.",
		}),
		wsDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_disconnects_total",
			Help: "Closed realtime connections.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_messages_total",
			Help: "Realtime messages queued for delivery by type.",
		}, []string{"type"}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_slow_clients_dropped_total",
			Help: "Clients disconnected because their send queue was full.",
		}),
		pauseAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "long_pause_alerts_total",
			Help: "Long-pause alerts emitted.",
		}),
		telephony: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "telephony_events_total",
			Help: "Telephony call events by type and result.",
		}, []string{"type", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.conflicts, m.transitionTime,
		m.ticks, m.tickDuration, m.flushes, m.flushDuration,
		m.cacheErrors, m.trackedAgents, m.agentsByStatus,
		m.wsConnections, m.wsConnects, m.wsDisconnects, m.wsMessages, m.wsDropped,
		m.pauseAlerts, m.telephony, m.httpRequests, m.httpDuration,
	)
	return m
}

// RecordTransition records a committed transition into status
func (m *Metrics) RecordTransition(status types.AgentStatus, took time.Duration) {
	m.transitions.WithLabelValues(string(status)).Inc()
	m.transitionTime.Observe(took.Seconds())
}

// RecordConflict records lock or constraint contention
func (m *Metrics) RecordConflict() {
	m.conflicts.Inc()
}

// RecordTick records one accumulator tick cycle
func (m *Metrics) RecordTick(took time.Duration, tracked int) {
	m.ticks.Inc()
	m.tickDuration.Observe(took.Seconds())
	m.trackedAgents.Set(float64(tracked))
}

// RecordFlush records one flush cycle
func (m *Metrics) RecordFlush(took time.Duration, flushed, failed int) {
	m.flushDuration.Observe(took.Seconds())
	m.flushes.WithLabelValues("ok").Add(float64(flushed))
	m.flushes.WithLabelValues("error").Add(float64(failed))
}

// RecordCacheError records a failed metrics cache operation
func (m *Metrics) RecordCacheError(op string) {
	m.cacheErrors.WithLabelValues(op).Inc()
}

// UpdateAgentStats replaces the per-status agent gauges
func (m *Metrics) UpdateAgentStats(byStatus map[types.AgentStatus]int) {
	for _, status := range types.AllStatuses {
		m.agentsByStatus.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
}

// RecordWebSocketConnect increments the connection gauge
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.activeConnCount++
	m.mu.Unlock()
	m.wsConnects.Inc()
	m.wsConnections.Inc()
}

// RecordWebSocketDisconnect decrements the connection gauge
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.activeConnCount--
	m.mu.Unlock()
	m.wsDisconnects.Inc()
	m.wsConnections.Dec()
}

// RecordWebSocketMessage counts a queued outbound message
func (m *Metrics) RecordWebSocketMessage(msgType types.MessageType) {
	m.wsMessages.WithLabelValues(string(msgType)).Inc()
}

// RecordSlowClientDropped counts a client removed for a full send queue
func (m *Metrics) RecordSlowClientDropped() {
	m.wsDropped.Inc()
}

// RecordPauseAlert counts an emitted long-pause alert
func (m *Metrics) RecordPauseAlert() {
	m.pauseAlerts.Inc()
}

// RecordTelephonyEvent counts a telephony event by outcome
func (m *Metrics) RecordTelephonyEvent(eventType, result string) {
	m.telephony.WithLabelValues(eventType, result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(route string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeConnCount
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
