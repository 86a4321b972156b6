// Package monitoring collects Prometheus metrics for the realtime service.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Presence metrics
	GroupMembers prometheus.Gauge
	ActiveGroups prometheus.Gauge
	Broadcasts   *prometheus.CounterVec
	DirectSends  *prometheus.CounterVec

	// Collaborator metrics
	BotRequests *prometheus.CounterVec
	BotDuration prometheus.Histogram

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "realtime_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		GroupMembers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_group_members",
				Help: "Total group membership entries across all groups",
			},
		),
		ActiveGroups: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_active_groups",
				Help: "Number of groups with at least one member",
			},
		),
		Broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_broadcasts_total",
				Help: "Total number of fan-out broadcasts",
			},
			[]string{"scope"},
		),
		DirectSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_direct_sends_total",
				Help: "Total number of direct message delivery attempts",
			},
			[]string{"delivered"},
		),

		BotRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_bot_requests_total",
				Help: "Total number of text-completion requests",
			},
			[]string{"status"},
		),
		BotDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "realtime_bot_duration_seconds",
				Help:    "Text-completion request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Handler returns an HTTP handler exposing this collector's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordBroadcast records a fan-out broadcast. Scope is "group" or "all".
func (m *Metrics) RecordBroadcast(scope string) {
	m.Broadcasts.WithLabelValues(scope).Inc()
}

// RecordDirectSend records a direct message delivery attempt.
func (m *Metrics) RecordDirectSend(delivered bool) {
	if delivered {
		m.DirectSends.WithLabelValues("true").Inc()
	} else {
		m.DirectSends.WithLabelValues("false").Inc()
	}
}

// RecordBotRequest records a text-completion call.
func (m *Metrics) RecordBotRequest(status string, duration time.Duration) {
	m.BotRequests.WithLabelValues(status).Inc()
	m.BotDuration.Observe(duration.Seconds())
}

// SetPresence updates membership gauges.
func (m *Metrics) SetPresence(members, groups int) {
	m.GroupMembers.Set(float64(members))
	m.ActiveGroups.Set(float64(groups))
}

// IncWSConnections increments the WebSocket connection gauge.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements the WebSocket connection gauge.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
