package channel

import (
	"time"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// pendingMessage is one enqueued message (or fragment piece) retained
// until acknowledged.
type pendingMessage struct {
	index    protocol.SeqNum
	payload  []byte
	fragment *protocol.Fragment // nil for whole messages

	sent     bool
	lastSent time.Time
	acked    bool
}

// reliableSender buffers outgoing messages, assigns message indexes in
// send order, and retains every message until an acknowledgment covers
// the packet it last rode in. Retransmission reuses the payload bytes
// but always produces a new wire packet.
type reliableSender struct {
	pending   []*pendingMessage
	nextIndex protocol.SeqNum
	byIndex   map[protocol.SeqNum]*pendingMessage
}

func newReliableSender() *reliableSender {
	return &reliableSender{
		byIndex: make(map[protocol.SeqNum]*pendingMessage),
	}
}

// enqueue appends a whole message to the send buffer.
func (s *reliableSender) enqueue(payload []byte) {
	s.push(&pendingMessage{payload: payload})
}

// enqueueFragment appends one fragment piece. Each piece has its own
// message index and is retired independently.
func (s *reliableSender) enqueueFragment(frag protocol.Fragment) {
	s.push(&pendingMessage{payload: frag.Payload, fragment: &frag})
}

func (s *reliableSender) push(m *pendingMessage) {
	m.index = s.nextIndex
	s.nextIndex++
	s.pending = append(s.pending, m)
	s.byIndex[m.index] = m
}

// collectDue returns every message due for a first send or a
// retransmission: unsent messages immediately, sent messages once the
// resend interval has elapsed without an acknowledgment.
func (s *reliableSender) collectDue(now time.Time, resendAfter time.Duration) []*pendingMessage {
	var due []*pendingMessage
	for _, m := range s.pending {
		if m.acked {
			continue
		}
		if !m.sent || now.Sub(m.lastSent) >= resendAfter {
			due = append(due, m)
		}
	}
	return due
}

// markSent records the transmission time for a message just written to a
// wire packet.
func (s *reliableSender) markSent(m *pendingMessage, now time.Time) {
	m.sent = true
	m.lastSent = now
}

// ack retires a message the moment any covering acknowledgment arrives.
func (s *reliableSender) ack(index protocol.SeqNum) {
	m, ok := s.byIndex[index]
	if !ok {
		return
	}
	m.acked = true
	delete(s.byIndex, index)

	// prune retired messages from the front of the buffer
	for len(s.pending) > 0 && s.pending[0].acked {
		s.pending = s.pending[1:]
	}
}

// hasPending reports whether any message still awaits acknowledgment.
func (s *reliableSender) hasPending() bool {
	return len(s.byIndex) > 0
}

// clear drops all buffered messages. Used on teardown so no send state
// survives the connection.
func (s *reliableSender) clear() {
	s.pending = nil
	s.byIndex = make(map[protocol.SeqNum]*pendingMessage)
}
