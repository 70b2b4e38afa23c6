package channel

import (
	"errors"
	"time"

	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/protocol"
)

var ErrMessageTooLarge = errors.New("message exceeds fragmentable size")

// Kind selects a channel's delivery guarantee. The set is closed: every
// kind shares the same send/flush/receive capability surface and is
// chosen per channel id at configuration time.
type Kind int

const (
	// KindOrderedReliable delivers every message exactly once, in
	// strictly increasing order with no gaps. Required for lockstep
	// determinism.
	KindOrderedReliable Kind = iota

	// KindUnorderedReliable delivers every message exactly once, in any
	// order.
	KindUnorderedReliable
)

// AckListener observes packet send and acknowledgment times. The
// connection's time manager uses these to estimate round-trip time.
type AckListener interface {
	OnSendPacket(ch protocol.ChannelID, seq protocol.SeqNum, t time.Time)
	OnAckReceived(ch protocol.ChannelID, seq protocol.SeqNum, t time.Time)
}

// Config carries the channel knobs consumed from the connection config.
type Config struct {
	// MaxPacketPayload is the largest plaintext body one packet may
	// carry. Messages larger than this (minus block overhead) are
	// fragmented.
	MaxPacketPayload int

	// ResendBackoff scales the RTT estimate into the retransmission
	// interval.
	ResendBackoff float64

	// MinResendInterval floors the retransmission interval so a
	// near-zero RTT estimate cannot cause a resend storm.
	MinResendInterval time.Duration

	// AssemblyTimeout bounds how long a partial reassembly may hold
	// memory.
	AssemblyTimeout time.Duration
}

// DefaultConfig returns the channel defaults.
func DefaultConfig() Config {
	return Config{
		MaxPacketPayload:  protocol.DefaultMaxPayload,
		ResendBackoff:     1.5,
		MinResendInterval: 50 * time.Millisecond,
		AssemblyTimeout:   5 * time.Second,
	}
}

// Outgoing is one wire-ready packet produced at a flush point: a filled
// header plus the plaintext body the connection will encrypt.
type Outgoing struct {
	Header protocol.Header
	Body   []byte
}

// Channel is one reliability channel: a send buffer of unacknowledged
// messages, a receive pipeline enforcing the kind's ordering guarantee,
// and the cumulative ack state piggy-backed on outgoing packets.
type Channel struct {
	id   protocol.ChannelID
	kind Kind
	cfg  Config

	sender     *reliableSender
	fragmenter protocol.Fragmenter

	recv receiver
	frag *fragmentReceiver
	acks *ackManager

	// packetContents maps an in-flight packet sequence to the message
	// indexes it carried, so a covering ack retires them.
	packetContents map[protocol.SeqNum][]protocol.SeqNum

	ackDirty bool

	listener AckListener
	counters *metrics.Counters
}

// New creates a channel of the given kind.
func New(id protocol.ChannelID, kind Kind, cfg Config, listener AckListener, counters *metrics.Counters) *Channel {
	if counters == nil {
		counters = metrics.Discard()
	}

	var recv receiver
	switch kind {
	case KindUnorderedReliable:
		recv = newUnorderedReceiver()
	default:
		recv = newOrderedReceiver()
	}

	return &Channel{
		id:             id,
		kind:           kind,
		cfg:            cfg,
		sender:         newReliableSender(),
		recv:           recv,
		frag:           newFragmentReceiver(cfg.AssemblyTimeout),
		acks:           newAckManager(),
		packetContents: make(map[protocol.SeqNum][]protocol.SeqNum),
		listener:       listener,
		counters:       counters,
	}
}

// ID returns the channel id.
func (c *Channel) ID() protocol.ChannelID { return c.id }

// Kind returns the channel kind.
func (c *Channel) Kind() Kind { return c.kind }

// EnqueueSend buffers one application message for reliable delivery.
// Messages whose serialized size exceeds the packet budget are split
// into equal-size fragments, each retired independently once
// acknowledged.
func (c *Channel) EnqueueSend(payload []byte) error {
	maxPiece := c.cfg.MaxPacketPayload - protocol.MessageBlockOverhead
	if len(payload) > maxPiece*protocol.MaxFragmentCount {
		return ErrMessageTooLarge
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	if frags := c.fragmenter.Split(buf, maxPiece); frags != nil {
		for _, f := range frags {
			c.sender.enqueueFragment(f)
		}
		return nil
	}
	c.sender.enqueue(buf)
	return nil
}

// HasPending reports whether any message still awaits acknowledgment.
func (c *Channel) HasPending() bool {
	return c.sender.hasPending()
}

// PendingAck reports whether the channel has received packets it has not
// yet acknowledged on an outgoing packet.
func (c *Channel) PendingAck() bool {
	return c.ackDirty
}

// OnFlushPoint assembles wire-ready packets for every message due for a
// first send or retransmission. When nothing is due but acknowledgments
// are owed, a single header-only packet carries them.
func (c *Channel) OnFlushPoint(now time.Time, rtt time.Duration, tick protocol.Tick) []Outgoing {
	resendAfter := time.Duration(float64(rtt) * c.cfg.ResendBackoff)
	if resendAfter < c.cfg.MinResendInterval {
		resendAfter = c.cfg.MinResendInterval
	}

	due := c.sender.collectDue(now, resendAfter)

	var out []Outgoing
	var batch []*pendingMessage
	batchSize := 0

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		blocks := make([]protocol.MessageBlock, len(batch))
		for i, m := range batch {
			blocks[i] = protocol.MessageBlock{Index: m.index, Payload: m.payload}
		}
		out = append(out, c.buildPacket(protocol.PacketTypeData, tick, nil, protocol.EncodeBlocks(blocks), now))
		for _, m := range batch {
			c.trackSent(m, out[len(out)-1].Header.Seq, now)
		}
		batch = batch[:0]
		batchSize = 0
	}

	for _, m := range due {
		if m.sent {
			c.counters.Retransmissions.Inc()
		}

		if m.fragment != nil {
			// fragments ride alone so the header metadata stays unambiguous
			block := protocol.MessageBlock{Index: m.index, Payload: m.payload}
			pkt := c.buildPacket(protocol.PacketTypeData, tick, m.fragment, protocol.EncodeBlocks([]protocol.MessageBlock{block}), now)
			out = append(out, pkt)
			c.trackSent(m, pkt.Header.Seq, now)
			continue
		}

		size := protocol.BlockSize(m.payload)
		if batchSize+size > c.cfg.MaxPacketPayload {
			flushBatch()
		}
		batch = append(batch, m)
		batchSize += size
	}
	flushBatch()

	if len(out) == 0 && c.ackDirty {
		out = append(out, c.buildPacket(protocol.PacketTypeData, tick, nil, nil, now))
	}
	if len(out) > 0 {
		c.ackDirty = false
	}

	c.prunePacketContents()
	return out
}

// HeartbeatPacket builds a keepalive packet carrying the current ack
// state, for use when the send path has been idle.
func (c *Channel) HeartbeatPacket(tick protocol.Tick, now time.Time) Outgoing {
	c.ackDirty = false
	return c.buildPacket(protocol.PacketTypeHeartbeat, tick, nil, nil, now)
}

func (c *Channel) buildPacket(packetType uint16, tick protocol.Tick, frag *protocol.Fragment, body []byte, now time.Time) Outgoing {
	h := protocol.NewHeader(packetType)
	h.Seq = c.acks.nextOutgoing()
	h.AckBase, h.AckBits = c.acks.ackState()
	h.Tick = tick
	h.Channel = c.id
	if frag != nil {
		h.SetFlag(protocol.FlagFragment)
		h.FragGroup = frag.Group
		h.FragIndex = frag.Index
		h.FragCount = frag.Count
	}

	if c.listener != nil {
		c.listener.OnSendPacket(c.id, h.Seq, now)
	}
	c.counters.PacketsSent.Inc()
	return Outgoing{Header: h, Body: body}
}

func (c *Channel) trackSent(m *pendingMessage, packetSeq protocol.SeqNum, now time.Time) {
	c.packetContents[packetSeq] = append(c.packetContents[packetSeq], m.index)
	c.sender.markSent(m, now)
}

// OnPacketReceived processes one decrypted packet addressed to this
// channel: applies its acknowledgment state, deduplicates its sequence,
// and runs the payload through ordering and reassembly. It returns the
// messages now ready for the application, in the kind's guaranteed
// order.
func (c *Channel) OnPacketReceived(h protocol.Header, body []byte, now time.Time) ([][]byte, error) {
	c.acks.processAcks(h.AckBase, h.AckBits, func(seq protocol.SeqNum) {
		for _, index := range c.packetContents[seq] {
			c.sender.ack(index)
		}
		delete(c.packetContents, seq)
		if c.listener != nil {
			c.listener.OnAckReceived(c.id, seq, now)
		}
	})

	if !c.acks.recordReceived(h.Seq) {
		// retransmitted or network-duplicated datagram; expected, absorbed.
		// Re-ack it in case the original ack was the loss.
		c.counters.DuplicatesDropped.Inc()
		c.ackDirty = true
		return nil, nil
	}
	c.counters.PacketsReceived.Inc()

	if h.Type == protocol.PacketTypeHeartbeat || len(body) == 0 {
		// carries only ack state; acking it back would ping-pong forever
		return nil, nil
	}
	c.ackDirty = true

	blocks, err := protocol.DecodeBlocks(body)
	if err != nil {
		return nil, err
	}

	for i := range blocks {
		msg := inbound{index: blocks[i].Index, payload: blocks[i].Payload}
		if h.HasFlag(protocol.FlagFragment) {
			msg.fragment = &protocol.Fragment{
				Group:   h.FragGroup,
				Index:   h.FragIndex,
				Count:   h.FragCount,
				Payload: blocks[i].Payload,
			}
		}
		if !c.recv.accept(msg) {
			c.counters.DuplicatesDropped.Inc()
		}
	}

	var delivered [][]byte
	for _, msg := range c.recv.drain() {
		if msg.fragment != nil {
			if whole, ok := c.frag.accept(now, msg.fragment); ok {
				delivered = append(delivered, whole)
			}
			continue
		}
		delivered = append(delivered, msg.payload)
	}

	for range delivered {
		c.counters.MessagesDelivered.Inc()
	}
	return delivered, nil
}

// SweepAssemblies discards partial reassemblies older than the assembly
// timeout.
func (c *Channel) SweepAssemblies(now time.Time) {
	for i := 0; i < c.frag.sweep(now); i++ {
		c.counters.FragmentsExpired.Inc()
	}
}

// Close releases the channel's send buffers and partial reassemblies
// immediately. No state survives into a recycled connection slot.
func (c *Channel) Close() {
	c.sender.clear()
	c.frag.clear()
	c.packetContents = make(map[protocol.SeqNum][]protocol.SeqNum)
}

// prunePacketContents drops tracking for packets so old their acks can
// no longer arrive inside the dedupe window.
func (c *Channel) prunePacketContents() {
	horizon := c.acks.nextSeq - receiveWindowSize
	for seq := range c.packetContents {
		if int(horizon.Diff(seq)) > 0 {
			delete(c.packetContents, seq)
		}
	}
}
