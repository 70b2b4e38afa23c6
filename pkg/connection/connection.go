package connection

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/channel"
	"github.com/tickwire/tickwire/pkg/crypto"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/protocol"
)

var (
	ErrNotOpen        = errors.New("connection not open")
	ErrUnknownChannel = errors.New("unknown channel id")
)

// SendFunc hands a wire-ready datagram to the external transport.
// Best-effort and non-blocking; the transport may drop it.
type SendFunc func(addr string, payload []byte) error

// Conn is the connection state machine for a single peer. It owns one
// crypto session, one time manager, and the configured set of
// reliability channels, and drives handshake, steady state, and
// teardown.
//
// A Conn has a single logical owner: all methods must be called from one
// goroutine (or otherwise serialized). Receipt processing and send
// flushing mutate nonce counters and sequence windows that require
// strict sequential ordering.
type Conn struct {
	addr string
	role crypto.Role
	cfg  Config

	state  State
	phase  HandshakePhase
	reason DisconnectReason

	session  *crypto.Session
	tm       *TimeManager
	channels map[protocol.ChannelID]*channel.Channel
	order    []protocol.ChannelID
	counters *metrics.Counters
	send     SendFunc

	userKey protocol.UserKey
	token   uuid.UUID

	// acceptPayload is the encoded ServerAccept, retained so duplicate
	// hellos from a client that missed it can be answered.
	acceptPayload []byte

	events []Event

	authFailures int
	epoch        time.Time

	handshakeDeadline time.Time
	handshakeResend   timer
	heartbeat         timer
	pingTimer         timer
	timeout           timer

	disconnectDeadline time.Time
	noticeResend       timer
}

func newConn(addr string, role crypto.Role, cfg Config, send SendFunc, counters *metrics.Counters, now time.Time) (*Conn, error) {
	session, err := crypto.NewSession(role)
	if err != nil {
		return nil, err
	}
	if counters == nil {
		counters = metrics.Discard()
	}

	c := &Conn{
		addr:     addr,
		role:     role,
		cfg:      cfg,
		state:    StateHandshaking,
		session:  session,
		channels: make(map[protocol.ChannelID]*channel.Channel),
		counters: counters,
		send:     send,
		epoch:    now,
	}

	c.tm = NewTimeManager(cfg.TickDuration, now)
	chCfg := cfg.channelConfig()
	for _, def := range cfg.Channels {
		kind, err := kindOf(def.Kind)
		if err != nil {
			return nil, err
		}
		id := protocol.ChannelID(def.ID)
		c.channels[id] = channel.New(id, kind, chCfg, c.tm, counters)
		c.order = append(c.order, id)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })

	c.heartbeat = newTimer(cfg.HeartbeatInterval, now)
	c.pingTimer = newTimer(cfg.PingInterval, now)
	c.timeout = newTimer(cfg.Timeout, now)

	return c, nil
}

// NewClient creates the client side of a connection and begins the
// handshake. The first hello goes out on the next poll.
func NewClient(addr string, cfg Config, send SendFunc, counters *metrics.Counters, now time.Time) (*Conn, error) {
	c, err := newConn(addr, crypto.RoleClient, cfg, send, counters, now)
	if err != nil {
		return nil, err
	}
	c.phase = PhaseAwaitingAccept
	c.token = uuid.New()
	c.handshakeDeadline = now.Add(cfg.HandshakeTimeout)
	c.handshakeResend = newRingingTimer(cfg.HandshakeResendInterval, now)
	return c, nil
}

// NewServer creates the server side of a connection from the client's
// hello. The key exchange completes immediately and the connection is
// usable at once: steady-state packets from the client are accepted even
// while the accept response is still in flight, so no early data is
// dropped.
func NewServer(addr string, cfg Config, send SendFunc, counters *metrics.Counters, userKey protocol.UserKey, hello *protocol.ClientHello, now time.Time) (*Conn, error) {
	c, err := newConn(addr, crypto.RoleServer, cfg, send, counters, now)
	if err != nil {
		return nil, err
	}
	c.userKey = userKey
	copy(c.token[:], hello.Token[:])

	if err := c.session.CompleteExchange(hello.PublicKey); err != nil {
		return nil, err
	}

	accept := protocol.ServerAccept{PublicKey: c.session.BeginExchange(), UserKey: userKey}
	c.acceptPayload = accept.Encode()

	c.transition(StateConnected, ReasonNone)
	c.sendAccept()
	return c, nil
}

// Addr returns the peer address string.
func (c *Conn) Addr() string { return c.addr }

// State returns the current lifecycle state.
func (c *Conn) State() State { return c.state }

// Reason returns why the connection left steady state.
func (c *Conn) Reason() DisconnectReason { return c.reason }

// UserKey returns the slot assigned during the handshake.
func (c *Conn) UserKey() protocol.UserKey { return c.userKey }

// RTT returns the smoothed round-trip estimate.
func (c *Conn) RTT() time.Duration { return c.tm.RTT() }

// CurrentTick returns the tick the connection is currently on.
func (c *Conn) CurrentTick() protocol.Tick { return c.tm.CurrentTick() }

// EnqueueSend buffers a message on a channel and flushes immediately.
// Messages enqueued during the handshake are buffered and go out once
// the connection reaches steady state.
func (c *Conn) EnqueueSend(id protocol.ChannelID, payload []byte) error {
	if c.state == StateClosed || c.state == StateDisconnecting {
		return ErrNotOpen
	}
	ch, ok := c.channels[id]
	if !ok {
		return ErrUnknownChannel
	}

	if err := ch.EnqueueSend(payload); err != nil {
		return err
	}
	c.tm.RequestFlush()
	if c.state == StateConnected {
		c.flushChannels(time.Now())
	}
	return nil
}

// Disconnect requests a graceful teardown: a shutdown notice goes to the
// peer, and the connection closes once the peer answers or the bounded
// timeout expires.
func (c *Conn) Disconnect(now time.Time) {
	if c.state != StateConnected && c.state != StateHandshaking {
		return
	}
	if c.state == StateHandshaking {
		c.close(ReasonRequested)
		return
	}

	c.transition(StateDisconnecting, ReasonRequested)
	c.disconnectDeadline = now.Add(c.cfg.DisconnectTimeout)
	c.noticeResend = newRingingTimer(c.cfg.HandshakeResendInterval, now)
	c.sendDisconnectNotice(now)
}

// PollOnce runs one cooperative iteration: timers, tick advancement,
// retransmissions, and keepalives. It never blocks and returns the
// application-visible events produced since the last poll.
func (c *Conn) PollOnce(now time.Time) []Event {
	switch c.state {
	case StateHandshaking:
		c.pollHandshake(now)
	case StateConnected:
		c.pollConnected(now)
	case StateDisconnecting:
		c.pollDisconnecting(now)
	}

	events := c.events
	c.events = nil
	return events
}

func (c *Conn) pollHandshake(now time.Time) {
	if now.After(c.handshakeDeadline) {
		// attempt abandoned, resources released, no connection created
		c.close(ReasonHandshakeFailed)
		return
	}
	if c.handshakeResend.tryReset(now) {
		c.sendClientHello()
	}
}

func (c *Conn) pollConnected(now time.Time) {
	for _, tick := range c.tm.AdvanceTickIfDue(now) {
		c.events = append(c.events, Event{Type: EventTick, Tick: tick})
	}

	c.flushChannels(now)

	for _, id := range c.order {
		c.channels[id].SweepAssemblies(now)
	}

	if c.pingTimer.tryReset(now) {
		c.sendPing(now)
	}

	if c.heartbeat.ringing(now) {
		for _, id := range c.order {
			pkt := c.channels[id].HeartbeatPacket(c.tm.CurrentTick(), now)
			c.sealAndSend(pkt.Header, pkt.Body, now)
		}
	}

	if c.timeout.ringing(now) {
		// peer unresponsive; still give the notice a best-effort send
		c.transition(StateDisconnecting, ReasonTimeout)
		c.sendDisconnectNotice(now)
		c.close(ReasonTimeout)
	}
}

func (c *Conn) pollDisconnecting(now time.Time) {
	if now.After(c.disconnectDeadline) {
		c.close(c.reason)
		return
	}
	if c.noticeResend.tryReset(now) {
		c.sendDisconnectNotice(now)
	}
}

// HandleDatagram processes one raw datagram from the transport. All
// per-packet errors are local: malformed or forged traffic is dropped
// without disturbing the connection unless authentication failures
// accumulate past the configured threshold.
func (c *Conn) HandleDatagram(payload []byte, now time.Time) {
	if c.state == StateClosed {
		return
	}

	h, body, err := protocol.ParsePacket(payload)
	if err != nil {
		c.counters.FrameErrors.Inc()
		return
	}

	if protocol.IsHandshakeType(h.Type) {
		c.handleHandshake(&h, body, now)
		return
	}

	if !c.session.Established() {
		// steady-state traffic before the key exchange finished
		return
	}

	if len(body) < protocol.NonceSize {
		c.counters.FrameErrors.Inc()
		return
	}
	nonce := binary.BigEndian.Uint64(body[:protocol.NonceSize])
	plain, err := c.session.Decrypt(nonce, body[protocol.NonceSize:], h.Encode())
	if err != nil {
		c.counters.AuthFailures.Inc()
		c.authFailures++
		if c.authFailures >= c.cfg.AuthFailureThreshold {
			log.Printf("connection %s: %d consecutive auth failures, closing", c.addr, c.authFailures)
			c.forceClose(ReasonAuthFailures, now)
		}
		return
	}
	c.authFailures = 0
	c.timeout.reset(now)

	switch h.Type {
	case protocol.PacketTypeData, protocol.PacketTypeHeartbeat:
		c.handleData(&h, plain, now)
	case protocol.PacketTypePing:
		c.sendPong(plain, now)
	case protocol.PacketTypePong:
		c.handlePong(plain, now)
	case protocol.PacketTypeDisconnect:
		c.handleRemoteDisconnect(now)
	default:
		c.counters.FrameErrors.Inc()
	}
}

func (c *Conn) handleData(h *protocol.Header, plain []byte, now time.Time) {
	if c.state != StateConnected {
		return
	}
	ch, ok := c.channels[h.Channel]
	if !ok {
		c.counters.FrameErrors.Inc()
		return
	}

	delivered, err := ch.OnPacketReceived(*h, plain, now)
	if err != nil {
		c.counters.FrameErrors.Inc()
		return
	}
	for _, msg := range delivered {
		c.events = append(c.events, Event{Type: EventMessage, Channel: h.Channel, Payload: msg})
	}
}

func (c *Conn) handleHandshake(h *protocol.Header, body []byte, now time.Time) {
	switch h.Type {
	case protocol.PacketTypeServerAccept:
		if c.role != crypto.RoleClient {
			return
		}
		if c.state != StateHandshaking {
			// duplicate accept from a resend; already connected
			return
		}
		var accept protocol.ServerAccept
		if err := accept.Decode(body); err != nil {
			c.counters.FrameErrors.Inc()
			return
		}
		if err := c.session.CompleteExchange(accept.PublicKey); err != nil {
			// tampered or invalid key material: no connection
			c.close(ReasonHandshakeFailed)
			return
		}
		c.userKey = accept.UserKey
		c.transition(StateConnected, ReasonNone)
		c.timeout.reset(now)
		// flush anything the application enqueued while handshaking
		c.flushChannels(now)

	case protocol.PacketTypeServerReject:
		if c.role != crypto.RoleClient || c.state != StateHandshaking {
			return
		}
		c.close(ReasonRejected)

	case protocol.PacketTypeClientHello:
		if c.role != crypto.RoleServer {
			return
		}
		// the client missed our accept; answer again
		c.sendAccept()
	}
}

func (c *Conn) handlePong(plain []byte, now time.Time) {
	if len(plain) < 8 {
		return
	}
	sentNs := binary.BigEndian.Uint64(plain[:8])
	nowNs := uint64(now.Sub(c.epoch).Nanoseconds())
	if nowNs >= sentNs {
		c.tm.SampleRTT(time.Duration(nowNs - sentNs))
	}
}

func (c *Conn) handleRemoteDisconnect(now time.Time) {
	switch c.state {
	case StateConnected, StateHandshaking:
		c.transition(StateDisconnecting, ReasonRemote)
		// answer so the initiator closes without waiting out its deadline
		c.sendDisconnectNotice(now)
		c.close(ReasonRemote)
	case StateDisconnecting:
		// peer observed our notice; teardown completes
		c.close(c.reason)
	}
}

// flushChannels is the flush point: every channel emits packets for
// messages due for first send or retransmission, plus owed acks.
func (c *Conn) flushChannels(now time.Time) {
	rtt := c.tm.RTT()
	tick := c.tm.CurrentTick()
	for _, id := range c.order {
		for _, pkt := range c.channels[id].OnFlushPoint(now, rtt, tick) {
			c.sealAndSend(pkt.Header, pkt.Body, now)
		}
	}
	c.tm.MarkFlushed()
}

func (c *Conn) sealAndSend(h protocol.Header, body []byte, now time.Time) {
	head := h.Encode()
	nonce, ciphertext, err := c.session.Encrypt(body, head)
	if err != nil {
		if errors.Is(err, crypto.ErrSessionExpired) {
			// nonce space exhausted; never wrap silently
			c.forceClose(ReasonSessionExpired, now)
		}
		return
	}

	wire := make([]byte, 0, len(head)+protocol.NonceSize+len(ciphertext))
	wire = append(wire, head...)
	wire = binary.BigEndian.AppendUint64(wire, nonce)
	wire = append(wire, ciphertext...)

	if err := c.send(c.addr, wire); err != nil {
		// transport is best-effort; reliability recovers the loss
		return
	}
	c.heartbeat.reset(now)
}

func (c *Conn) sendClientHello() {
	hello := protocol.ClientHello{Token: c.token, PublicKey: c.session.BeginExchange()}
	h := protocol.NewHeader(protocol.PacketTypeClientHello)
	_ = c.send(c.addr, protocol.BuildPacket(&h, hello.Encode()))
}

func (c *Conn) sendAccept() {
	h := protocol.NewHeader(protocol.PacketTypeServerAccept)
	_ = c.send(c.addr, protocol.BuildPacket(&h, c.acceptPayload))
}

func (c *Conn) sendPing(now time.Time) {
	h := protocol.NewHeader(protocol.PacketTypePing)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.Sub(c.epoch).Nanoseconds()))
	c.sealAndSend(h, ts[:], now)
}

func (c *Conn) sendPong(plain []byte, now time.Time) {
	h := protocol.NewHeader(protocol.PacketTypePong)
	c.sealAndSend(h, plain, now)
}

func (c *Conn) sendDisconnectNotice(now time.Time) {
	h := protocol.NewHeader(protocol.PacketTypeDisconnect)
	c.sealAndSend(h, nil, now)
}

func (c *Conn) transition(state State, reason DisconnectReason) {
	c.state = state
	if reason != ReasonNone {
		c.reason = reason
	}
	c.events = append(c.events, Event{Type: EventStateChange, State: state, Reason: c.reason})
}

// forceClose sends a best-effort notice and tears down immediately.
func (c *Conn) forceClose(reason DisconnectReason, now time.Time) {
	if c.state == StateClosed {
		return
	}
	if c.state == StateConnected {
		c.transition(StateDisconnecting, reason)
		c.sendDisconnectNotice(now)
	}
	c.close(reason)
}

// close releases all connection resources immediately: pending send
// buffers, partial reassemblies, and session key material. Nothing
// survives into a recycled user slot.
func (c *Conn) close(reason DisconnectReason) {
	if c.state == StateClosed {
		return
	}
	for _, id := range c.order {
		c.channels[id].Close()
	}
	c.session.Close()
	c.transition(StateClosed, reason)
}

// String describes the connection for logs.
func (c *Conn) String() string {
	return fmt.Sprintf("conn(%s %s)", c.addr, c.state)
}
