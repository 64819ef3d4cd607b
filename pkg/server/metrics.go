package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	// Dispatch metrics
	messagesReceived *prometheus.CounterVec // by command
	decodeFailures   prometheus.Counter
	unknownCommands  prometheus.Counter
	handlerFailures  *prometheus.CounterVec // by command
	authAttempts     *prometheus.CounterVec // by outcome

	// Broadcast metrics
	broadcastsTotal   prometheus.Counter
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
	sendFailures      prometheus.Counter
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wirehub_active_sessions",
				Help: "Current number of open sessions",
			},
		),
		sessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wirehub_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsDisconnected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wirehub_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wirehub_messages_received_total",
				Help: "Total number of messages received from clients by command",
			},
			[]string{"command"},
		),
		decodeFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wirehub_decode_failures_total",
				Help: "Total number of inbound payloads that failed to decode",
			},
		),
		unknownCommands: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wirehub_unknown_commands_total",
				Help: "Total number of messages dropped for an unregistered command",
			},
		),
		handlerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wirehub_handler_failures_total",
				Help: "Total number of handler invocations that returned an error",
			},
			[]string{"command"},
		),
		authAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wirehub_auth_attempts_total",
				Help: "Total number of opportunistic token authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		broadcastsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wirehub_broadcasts_total",
				Help: "Total number of envelopes broadcast (unique messages, not deliveries)",
			},
		),
		broadcastFanout: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wirehub_broadcast_fanout",
				Help:    "Number of clients that received each broadcast",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
			},
		),
		broadcastDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wirehub_broadcast_duration_seconds",
				Help:    "Time taken to fan a broadcast out to all destinations",
				Buckets: prometheus.DefBuckets,
			},
		),
		sendFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wirehub_send_failures_total",
				Help: "Total number of per-destination send failures (reply or broadcast)",
			},
		),
	}
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

// RecordMessageReceived increments the message received counter for a command
func (m *Metrics) RecordMessageReceived(command string) {
	m.messagesReceived.WithLabelValues(command).Inc()
}

// RecordDecodeFailure increments the decode failure counter
func (m *Metrics) RecordDecodeFailure() {
	m.decodeFailures.Inc()
}

// RecordUnknownCommand increments the unknown command counter
func (m *Metrics) RecordUnknownCommand() {
	m.unknownCommands.Inc()
}

// RecordHandlerFailure increments the handler failure counter for a command
func (m *Metrics) RecordHandlerFailure(command string) {
	m.handlerFailures.WithLabelValues(command).Inc()
}

// RecordAuthAttempt increments the auth attempt counter for an outcome
func (m *Metrics) RecordAuthAttempt(outcome string) {
	m.authAttempts.WithLabelValues(outcome).Inc()
}

// RecordBroadcast records one fan-out: recipient count and duration
func (m *Metrics) RecordBroadcast(recipients int, durationSeconds float64) {
	m.broadcastsTotal.Inc()
	m.broadcastFanout.Observe(float64(recipients))
	m.broadcastDuration.Observe(durationSeconds)
}

// RecordSendFailure increments the per-destination send failure counter
func (m *Metrics) RecordSendFailure() {
	m.sendFailures.Inc()
}
