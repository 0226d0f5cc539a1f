// Package metrics provides Prometheus metrics for browsersync.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "browsersync"
)

// Metrics contains all Prometheus metrics for the sync engine.
type Metrics struct {
	// Peer connection metrics
	PeersConnected  prometheus.Gauge
	PeersTotal      prometheus.Counter
	PeerConnections *prometheus.CounterVec
	PeerDisconnects *prometheus.CounterVec

	// Stream metrics
	StreamsActive     prometheus.Gauge
	StreamsOpened     prometheus.Counter
	StreamsClosed     prometheus.Counter
	StreamOpenLatency prometheus.Histogram
	StreamErrors      *prometheus.CounterVec

	// Secure frame metrics
	FramesEncrypted prometheus.Counter
	FramesDecrypted prometheus.Counter
	FramesRejected  *prometheus.CounterVec

	// Event log metrics
	EventsApplied    *prometheus.CounterVec
	EventsDuplicate  prometheus.Counter
	EventsRejected   *prometheus.CounterVec
	EventLogSize     prometheus.Gauge
	ProjectionErrors *prometheus.CounterVec

	// Sync round metrics
	SyncRounds       prometheus.Counter
	SyncRoundLatency prometheus.Histogram
	SyncRoundErrors  *prometheus.CounterVec
	SyncEventsPushed prometheus.Counter
	SyncEventsPulled prometheus.Counter

	// Pairing metrics
	PairingAttempts  *prometheus.CounterVec
	PairingSuccesses prometheus.Counter
	PairingTimeouts  prometheus.Counter
	PairingLatency   prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Peer connection metrics
		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Number of currently connected peers",
		}),
		PeersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_total",
			Help:      "Total number of peer connections established",
		}),
		PeerConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connections_total",
			Help:      "Total peer connections by transport type",
		}, []string{"transport", "direction"}),
		PeerDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnects_total",
			Help:      "Total peer disconnections by reason",
		}, []string{"reason"}),

		// Stream metrics
		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active streams",
		}),
		StreamsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "Total number of streams opened",
		}),
		StreamsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_closed_total",
			Help:      "Total number of streams closed",
		}),
		StreamOpenLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_open_latency_seconds",
			Help:      "Histogram of stream open latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		StreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total stream errors by type",
		}, []string{"error_type"}),

		// Secure frame metrics
		FramesEncrypted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encrypted_total",
			Help:      "Total secure frames sealed for transmission",
		}),
		FramesDecrypted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decrypted_total",
			Help:      "Total secure frames opened successfully",
		}),
		FramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Total secure frames rejected by reason",
		}, []string{"reason"}),

		// Event log metrics
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Total events applied to the local log by type",
		}, []string{"event_type"}),
		EventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Total events ignored as already-seen duplicates",
		}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total events rejected during ingest by reason",
		}, []string{"reason"}),
		EventLogSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_log_size",
			Help:      "Number of events currently stored in the local log",
		}),
		ProjectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_errors_total",
			Help:      "Total projection failures by event type",
		}, []string{"event_type"}),

		// Sync round metrics
		SyncRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rounds_total",
			Help:      "Total sync rounds performed with peers",
		}),
		SyncRoundLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_round_latency_seconds",
			Help:      "Histogram of sync round latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SyncRoundErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_round_errors_total",
			Help:      "Total sync round failures by reason",
		}, []string{"reason"}),
		SyncEventsPushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_pushed_total",
			Help:      "Total events pushed to peers",
		}),
		SyncEventsPulled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_pulled_total",
			Help:      "Total events pulled from peers",
		}),

		// Pairing metrics
		PairingAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_attempts_total",
			Help:      "Total pairing attempts by role",
		}, []string{"role"}),
		PairingSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_successes_total",
			Help:      "Total successful pairing handshakes",
		}),
		PairingTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_timeouts_total",
			Help:      "Total pairing sessions that expired before completion",
		}),
		PairingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pairing_latency_seconds",
			Help:      "Histogram of time from pairing initiation to completion",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}

	return m
}

// RecordPeerConnect records a new peer connection.
func (m *Metrics) RecordPeerConnect(transport, direction string) {
	m.PeersConnected.Inc()
	m.PeersTotal.Inc()
	m.PeerConnections.WithLabelValues(transport, direction).Inc()
}

// RecordPeerDisconnect records a peer disconnection.
func (m *Metrics) RecordPeerDisconnect(reason string) {
	m.PeersConnected.Dec()
	m.PeerDisconnects.WithLabelValues(reason).Inc()
}

// RecordStreamOpen records a stream being opened.
func (m *Metrics) RecordStreamOpen(latencySeconds float64) {
	m.StreamsActive.Inc()
	m.StreamsOpened.Inc()
	m.StreamOpenLatency.Observe(latencySeconds)
}

// RecordStreamClose records a stream being closed.
func (m *Metrics) RecordStreamClose() {
	m.StreamsActive.Dec()
	m.StreamsClosed.Inc()
}

// RecordStreamError records a stream error.
func (m *Metrics) RecordStreamError(errorType string) {
	m.StreamErrors.WithLabelValues(errorType).Inc()
}

// RecordFrameEncrypted records a secure frame being sealed.
func (m *Metrics) RecordFrameEncrypted() {
	m.FramesEncrypted.Inc()
}

// RecordFrameDecrypted records a secure frame being opened.
func (m *Metrics) RecordFrameDecrypted() {
	m.FramesDecrypted.Inc()
}

// RecordFrameRejected records a secure frame rejected during opening.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordEventApplied records an event applied to the local log.
func (m *Metrics) RecordEventApplied(eventType string) {
	m.EventsApplied.WithLabelValues(eventType).Inc()
}

// RecordEventDuplicate records an event ignored as a duplicate.
func (m *Metrics) RecordEventDuplicate() {
	m.EventsDuplicate.Inc()
}

// RecordEventRejected records an event rejected during ingest.
func (m *Metrics) RecordEventRejected(reason string) {
	m.EventsRejected.WithLabelValues(reason).Inc()
}

// SetEventLogSize sets the current event log size.
func (m *Metrics) SetEventLogSize(count int) {
	m.EventLogSize.Set(float64(count))
}

// RecordProjectionError records a projection failure.
func (m *Metrics) RecordProjectionError(eventType string) {
	m.ProjectionErrors.WithLabelValues(eventType).Inc()
}

// RecordSyncRound records a completed sync round.
func (m *Metrics) RecordSyncRound(latencySeconds float64) {
	m.SyncRounds.Inc()
	m.SyncRoundLatency.Observe(latencySeconds)
}

// RecordSyncRoundError records a failed sync round.
func (m *Metrics) RecordSyncRoundError(reason string) {
	m.SyncRoundErrors.WithLabelValues(reason).Inc()
}

// RecordSyncEventsPushed records events pushed to a peer.
func (m *Metrics) RecordSyncEventsPushed(count int) {
	m.SyncEventsPushed.Add(float64(count))
}

// RecordSyncEventsPulled records events pulled from a peer.
func (m *Metrics) RecordSyncEventsPulled(count int) {
	m.SyncEventsPulled.Add(float64(count))
}

// RecordPairingAttempt records a pairing attempt by role ("initiator" or "joiner").
func (m *Metrics) RecordPairingAttempt(role string) {
	m.PairingAttempts.WithLabelValues(role).Inc()
}

// RecordPairingSuccess records a successful pairing handshake.
func (m *Metrics) RecordPairingSuccess(latencySeconds float64) {
	m.PairingSuccesses.Inc()
	m.PairingLatency.Observe(latencySeconds)
}

// RecordPairingTimeout records a pairing session that expired.
func (m *Metrics) RecordPairingTimeout() {
	m.PairingTimeouts.Inc()
}
