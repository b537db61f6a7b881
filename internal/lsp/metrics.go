package lsp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for client starts.
const (
	startOutcomeOK             = "ok"
	startOutcomeSpawnError     = "spawn_error"
	startOutcomeHandshakeError = "handshake_error"
)

// Drop reasons.
const (
	dropNoClient        = "no_client"
	dropUnknownLanguage = "unknown_language"
	dropUnclassified    = "unclassified"
	dropWriteFailed     = "write_failed"
	dropDefunct         = "defunct"
)

// Metrics holds the Prometheus collectors for the LSP client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesRead      *prometheus.CounterVec
	FramesWritten   *prometheus.CounterVec
	Events          *prometheus.CounterVec
	ClientStarts    *prometheus.CounterVec
	RequestsDropped *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// If reg is nil the collectors are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.FramesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scame_lsp_frames_read_total",
			Help: "Total number of frames read from language servers",
		},
		[]string{"language"},
	)

	m.FramesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scame_lsp_frames_written_total",
			Help: "Total number of frames written to language servers",
		},
		[]string{"language"},
	)

	m.Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scame_lsp_events_total",
			Help: "Total number of events emitted to the editor",
		},
		[]string{"kind"},
	)

	m.ClientStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scame_lsp_client_starts_total",
			Help: "Language server start attempts by outcome",
		},
		[]string{"language", "outcome"},
	)

	m.RequestsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scame_lsp_requests_dropped_total",
			Help: "Requests and frames dropped without reaching their target",
		},
		[]string{"reason"},
	)

	if reg != nil {
		reg.MustRegister(
			m.FramesRead,
			m.FramesWritten,
			m.Events,
			m.ClientStarts,
			m.RequestsDropped,
		)
	}

	return m
}

func (m *Metrics) frameRead(language string) {
	if m == nil {
		return
	}
	m.FramesRead.WithLabelValues(language).Inc()
}

func (m *Metrics) frameWritten(language string) {
	if m == nil {
		return
	}
	m.FramesWritten.WithLabelValues(language).Inc()
}

func (m *Metrics) event(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) clientStart(language, outcome string) {
	if m == nil {
		return
	}
	m.ClientStarts.WithLabelValues(language, outcome).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.RequestsDropped.WithLabelValues(reason).Inc()
}
