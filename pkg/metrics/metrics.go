package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters holds the protocol performance counters. Per-packet anomalies
// (duplicates, auth failures, malformed frames) are absorbed by the core
// and surface only here, never to the application.
type Counters struct {
	PacketsSent        prometheus.Counter
	PacketsReceived    prometheus.Counter
	MessagesDelivered  prometheus.Counter
	DuplicatesDropped  prometheus.Counter
	Retransmissions    prometheus.Counter
	AuthFailures       prometheus.Counter
	FrameErrors        prometheus.Counter
	FragmentsExpired   prometheus.Counter
	HandshakesAccepted prometheus.Counter
	HandshakesRejected prometheus.Counter
}

// NewCounters registers the protocol counters on the given registerer.
func NewCounters(reg prometheus.Registerer) *Counters {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tickwire",
			Name:      name,
			Help:      help,
		})
	}

	return &Counters{
		PacketsSent:        counter("packets_sent_total", "Wire packets handed to the transport."),
		PacketsReceived:    counter("packets_received_total", "Wire packets accepted from the transport."),
		MessagesDelivered:  counter("messages_delivered_total", "Messages released to the application."),
		DuplicatesDropped:  counter("duplicates_dropped_total", "Duplicate packets or messages silently absorbed."),
		Retransmissions:    counter("retransmissions_total", "Messages resent after missing an acknowledgment."),
		AuthFailures:       counter("auth_failures_total", "Packets dropped due to failed authentication."),
		FrameErrors:        counter("frame_errors_total", "Packets dropped due to malformed headers or fragments."),
		FragmentsExpired:   counter("fragments_expired_total", "Partial reassemblies discarded after the assembly timeout."),
		HandshakesAccepted: counter("handshakes_accepted_total", "Handshakes completed and connections created."),
		HandshakesRejected: counter("handshakes_rejected_total", "Handshake attempts refused."),
	}
}

// Discard returns counters registered on a private registry, for library
// users who do not scrape metrics.
func Discard() *Counters {
	return NewCounters(prometheus.NewRegistry())
}
