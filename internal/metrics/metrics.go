package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Event names recorded under jumbo_server_events_total{event=...}.
const (
	SignalingConnected        = "signaling_connected"
	SignalingDisconnected     = "signaling_disconnected"
	SignalingMessageReceived  = "signaling_message_received"
	SignalingMessageSent      = "signaling_message_sent"
	SignalingMessageMalformed = "signaling_message_malformed"
	SignalingSendFailed       = "signaling_send_failed"
	SignalingBinaryIgnored    = "signaling_binary_ignored"

	OfferApplied           = "offer_applied"
	OfferRejected          = "offer_rejected"
	SessionReplaced        = "session_replaced"
	SessionClosed          = "session_closed"
	RemoteCandidateAdded   = "remote_candidate_added"
	RemoteCandidateDropped = "remote_candidate_dropped"
	LocalCandidateSent     = "local_candidate_sent"
	AnswerSent             = "answer_sent"

	CaptureOpened    = "capture_opened"
	CaptureNoDevice  = "capture_no_device"
	CaptureSampleErr = "capture_sample_error"

	DropReasonRateLimited = "rate_limited"
)

const namespace = "jumbo_server"

// Metrics is a concurrency-safe counter registry backed by a private
// Prometheus registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg      *prometheus.Registry
	events   *prometheus.CounterVec
	sessions prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Internal event counters.",
	}, []string{"event"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Active WebRTC sessions.",
	})
	reg.MustRegister(events, sessions)

	return &Metrics{
		reg:      reg,
		events:   events,
		sessions: sessions,
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var pb dto.Metric
	if err := m.events.WithLabelValues(name).Write(&pb); err != nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) Sessions() int {
	if m == nil {
		return 0
	}
	var pb dto.Metric
	if err := m.sessions.Write(&pb); err != nil {
		return 0
	}
	return int(pb.GetGauge().GetValue())
}

// Registry returns the underlying registry, or nil for a nil Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}
