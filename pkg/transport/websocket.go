package transport

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// The WebSocket transport carries each datagram as one binary message.
// It exists for peers that cannot open a UDP socket (browser-hosted
// clients behind a gateway); the protocol core treats it exactly like
// any other unreliable datagram link and keeps its own reliability.

const wsQueueDepth = 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxDatagramRead,
	WriteBufferSize: maxDatagramRead,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSClient is a client-side WebSocket datagram transport connected to a
// single gateway peer.
type WSClient struct {
	conn    *websocket.Conn
	addr    string
	inbound chan Datagram

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS connects to a WebSocket gateway (ws://host:port/path).
func DialWS(url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	c := &WSClient{
		conn:    conn,
		addr:    url,
		inbound: make(chan Datagram, wsQueueDepth),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Printf("ws transport: read: %v", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case c.inbound <- Datagram{Addr: c.addr, Payload: payload}:
		default:
		}
	}
}

// Send writes one datagram to the gateway. The addr argument is ignored;
// a WebSocket client has exactly one peer.
func (c *WSClient) Send(_ string, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Receive returns the next pending datagram without blocking.
func (c *WSClient) Receive() (Datagram, bool) {
	select {
	case d := <-c.inbound:
		return d, true
	default:
		return Datagram{}, false
	}
}

// LocalAddr returns the local endpoint of the underlying socket.
func (c *WSClient) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Close tears the socket down.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// WSServer accepts WebSocket peers over HTTP and exposes them as one
// shared datagram transport: each connected socket is a peer keyed by
// its remote address.
type WSServer struct {
	inbound chan Datagram

	mu    sync.Mutex
	peers map[string]*websocket.Conn

	local string
}

// NewWSServer creates the server-side WebSocket transport. Register
// Handler on an HTTP mux and serve it; peers appear as they connect.
func NewWSServer(localAddr string) *WSServer {
	return &WSServer{
		inbound: make(chan Datagram, wsQueueDepth),
		peers:   make(map[string]*websocket.Conn),
		local:   localAddr,
	}
}

// Handler upgrades incoming HTTP requests to WebSocket peers.
func (s *WSServer) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws transport: upgrade: %v", err)
		return
	}
	addr := conn.RemoteAddr().String()

	s.mu.Lock()
	s.peers[addr] = conn
	s.mu.Unlock()

	go s.readLoop(addr, conn)
}

func (s *WSServer) readLoop(addr string, conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, addr)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case s.inbound <- Datagram{Addr: addr, Payload: payload}:
		default:
		}
	}
}

// Send writes one datagram to a connected peer. Unknown peers are a
// silent drop, the same as a lost datagram.
func (s *WSServer) Send(addr string, payload []byte) error {
	s.mu.Lock()
	conn, ok := s.peers[addr]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Receive returns the next pending datagram without blocking.
func (s *WSServer) Receive() (Datagram, bool) {
	select {
	case d := <-s.inbound:
		return d, true
	default:
		return Datagram{}, false
	}
}

// LocalAddr returns the address the HTTP listener is expected on.
func (s *WSServer) LocalAddr() string { return s.local }

// Close drops every connected peer.
func (s *WSServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, conn := range s.peers {
		conn.Close()
		delete(s.peers, addr)
	}
	return nil
}
