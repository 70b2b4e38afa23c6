package server

import (
	"log"
	"time"

	"github.com/tickwire/tickwire/pkg/connection"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/transport"
)

// Event is one application-visible server event, tagged with the peer it
// came from.
type Event struct {
	Addr    string
	UserKey protocol.UserKey
	Event   connection.Event
}

// Server fans a single transport out to one connection per peer.
// Connections share no mutable state with each other; a server may be
// sharded by running several instances over disjoint transports. Within
// one Server all processing is serialized by the poll loop.
type Server struct {
	cfg       connection.Config
	transport transport.Transport
	counters  *metrics.Counters

	conns map[string]*connection.Conn
	keys  *UserKeyPool

	events []Event
}

// New creates a server over the given transport, accepting at most
// maxClients concurrent peers.
func New(cfg connection.Config, tr transport.Transport, maxClients int, counters *metrics.Counters) *Server {
	if counters == nil {
		counters = metrics.Discard()
	}
	return &Server{
		cfg:       cfg,
		transport: tr,
		counters:  counters,
		conns:     make(map[string]*connection.Conn),
		keys:      NewUserKeyPool(maxClients),
	}
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int { return len(s.conns) }

// EnqueueSend buffers a message for one peer on the given channel.
func (s *Server) EnqueueSend(addr string, ch protocol.ChannelID, payload []byte) error {
	conn, ok := s.conns[addr]
	if !ok {
		return connection.ErrNotOpen
	}
	return conn.EnqueueSend(ch, payload)
}

// Broadcast buffers a message for every connected peer.
func (s *Server) Broadcast(ch protocol.ChannelID, payload []byte) {
	for _, conn := range s.conns {
		if conn.State() == connection.StateConnected {
			_ = conn.EnqueueSend(ch, payload)
		}
	}
}

// Disconnect starts a graceful teardown for one peer.
func (s *Server) Disconnect(addr string, now time.Time) {
	if conn, ok := s.conns[addr]; ok {
		conn.Disconnect(now)
	}
}

// PollOnce runs one cooperative iteration: drains the transport, routes
// datagrams, polls every connection, and reaps closed ones. It never
// blocks and returns the events produced since the last poll.
func (s *Server) PollOnce(now time.Time) []Event {
	for {
		d, ok := s.transport.Receive()
		if !ok {
			break
		}
		s.route(d, now)
	}

	for addr, conn := range s.conns {
		for _, ev := range conn.PollOnce(now) {
			s.events = append(s.events, Event{Addr: addr, UserKey: conn.UserKey(), Event: ev})
		}
		if conn.State() == connection.StateClosed {
			// teardown complete; only now may the key be recycled
			delete(s.conns, addr)
			s.keys.Put(conn.UserKey())
		}
	}

	events := s.events
	s.events = nil
	return events
}

// route hands a datagram to its peer's connection, creating one when an
// unknown peer opens with a valid hello.
func (s *Server) route(d transport.Datagram, now time.Time) {
	if conn, ok := s.conns[d.Addr]; ok {
		conn.HandleDatagram(d.Payload, now)
		return
	}
	s.accept(d, now)
}

// accept creates a connection from an unknown peer's first packet. Only
// a well-formed hello is honored; anything else from an unknown address
// is dropped without a response.
func (s *Server) accept(d transport.Datagram, now time.Time) {
	h, body, err := protocol.ParsePacket(d.Payload)
	if err != nil {
		s.counters.FrameErrors.Inc()
		return
	}
	if h.Type != protocol.PacketTypeClientHello {
		return
	}

	var hello protocol.ClientHello
	if err := hello.Decode(body); err != nil {
		s.counters.FrameErrors.Inc()
		return
	}

	key, ok := s.keys.Get()
	if !ok {
		s.reject(d.Addr, protocol.RejectReasonFull)
		return
	}

	conn, err := connection.NewServer(d.Addr, s.cfg, s.transport.Send, s.counters, key, &hello, now)
	if err != nil {
		// key exchange failed; the slot was never used
		s.keys.Put(key)
		s.reject(d.Addr, protocol.RejectReasonKey)
		return
	}

	s.conns[d.Addr] = conn
	s.counters.HandshakesAccepted.Inc()
	log.Printf("server: accepted %s as user %d", d.Addr, key)

	for _, ev := range conn.PollOnce(now) {
		s.events = append(s.events, Event{Addr: d.Addr, UserKey: key, Event: ev})
	}
}

func (s *Server) reject(addr string, reason uint8) {
	s.counters.HandshakesRejected.Inc()
	h := protocol.NewHeader(protocol.PacketTypeServerReject)
	payload := protocol.ServerReject{Reason: reason}
	_ = s.transport.Send(addr, protocol.BuildPacket(&h, payload.Encode()))
}

// Shutdown notifies every connected client, then polls until each
// teardown completes or the bounded timeout expires.
func (s *Server) Shutdown(now time.Time) []Event {
	for _, conn := range s.conns {
		conn.Disconnect(now)
	}

	deadline := now.Add(s.cfg.DisconnectTimeout)
	for len(s.conns) > 0 {
		t := time.Now()
		s.events = append(s.events, s.PollOnce(t)...)
		if t.After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	events := s.events
	s.events = nil
	return events
}
