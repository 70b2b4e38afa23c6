package channel

import "github.com/tickwire/tickwire/pkg/protocol"

// receiveWindowSize is the span of the packet dedupe window. The ack
// bitfield only reaches 32 packets back, but the dedupe window is wider
// so long-delayed duplicates are still recognized.
const receiveWindowSize = 256

// ackManager tracks sent and received packet sequence numbers for one
// channel direction pair. The ack state it produces (base + bitfield) is
// copied into the header of every outgoing packet, acknowledging up to
// 33 packets without per-packet overhead.
type ackManager struct {
	nextSeq  protocol.SeqNum
	inFlight map[protocol.SeqNum]struct{}
	received *sequenceBuffer
}

func newAckManager() *ackManager {
	return &ackManager{
		inFlight: make(map[protocol.SeqNum]struct{}),
		received: newSequenceBuffer(receiveWindowSize),
	}
}

// nextOutgoing assigns the next packet sequence number and starts
// tracking it for acknowledgment.
func (a *ackManager) nextOutgoing() protocol.SeqNum {
	seq := a.nextSeq
	a.inFlight[seq] = struct{}{}
	a.nextSeq++

	// Bound tracking: anything half a window older than the newest
	// outgoing packet is handled by message-level retransmission.
	stale := seq - receiveWindowSize
	delete(a.inFlight, stale)

	return seq
}

// recordReceived notes an incoming packet sequence. It returns false for
// duplicates and for packets older than the dedupe window, both of which
// the caller must silently discard.
func (a *ackManager) recordReceived(seq protocol.SeqNum) bool {
	if a.received.contains(seq) {
		return false
	}
	return a.received.record(seq)
}

// ackState returns the cumulative acknowledgment to piggy-back on the
// next outgoing packet: the newest received sequence plus a bitfield
// where bit n-1 acknowledges sequence base-n.
func (a *ackManager) ackState() (base protocol.SeqNum, bits uint32) {
	base = a.received.latest()
	var mask uint32 = 1
	for i := protocol.SeqNum(1); i <= protocol.AckBitfieldSize; i++ {
		if a.received.contains(base - i) {
			bits |= mask
		}
		mask <<= 1
	}
	return base, bits
}

// processAcks applies a remote ack state, invoking delivered for every
// in-flight packet sequence it covers.
func (a *ackManager) processAcks(base protocol.SeqNum, bits uint32, delivered func(protocol.SeqNum)) {
	if _, ok := a.inFlight[base]; ok {
		delete(a.inFlight, base)
		delivered(base)
	}

	for i := protocol.SeqNum(1); i <= protocol.AckBitfieldSize; i++ {
		if bits&1 == 1 {
			seq := base - i
			if _, ok := a.inFlight[seq]; ok {
				delete(a.inFlight, seq)
				delivered(seq)
			}
		}
		bits >>= 1
	}
}
