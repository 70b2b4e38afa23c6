package transport

import (
	"errors"
	"log"
	"net"
	"sync"
)

// udpQueueDepth bounds buffered inbound datagrams. Overflow drops the
// newest packet, which the reliability layer recovers from like any
// other loss.
const udpQueueDepth = 1024

// maxDatagramRead is the largest datagram the reader accepts.
const maxDatagramRead = 65535

// UDP is the standard datagram transport. A single reader goroutine
// drains the socket into a bounded queue; Receive never blocks.
type UDP struct {
	conn    *net.UDPConn
	inbound chan Datagram

	mu    sync.Mutex
	peers map[string]*net.UDPAddr

	closeOnce sync.Once
	closed    chan struct{}
}

// ListenUDP opens a UDP transport bound to the given address
// ("host:port", empty host for all interfaces).
func ListenUDP(bind string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	u := &UDP{
		conn:    conn,
		inbound: make(chan Datagram, udpQueueDepth),
		peers:   make(map[string]*net.UDPAddr),
		closed:  make(chan struct{}),
	}
	go u.readLoop()
	return u, nil
}

func (u *UDP) readLoop() {
	buf := make([]byte, maxDatagramRead)
	for {
		n, peer, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.closed:
			default:
				log.Printf("udp transport: read: %v", err)
			}
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case u.inbound <- Datagram{Addr: peer.String(), Payload: payload}:
		default:
			// queue full; drop and let retransmission recover
		}
	}
}

// Send writes one datagram to the peer. Unresolvable addresses are
// reported; delivery is not.
func (u *UDP) Send(addr string, payload []byte) error {
	u.mu.Lock()
	peer, ok := u.peers[addr]
	u.mu.Unlock()

	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return err
		}
		peer = resolved
		u.mu.Lock()
		u.peers[addr] = peer
		u.mu.Unlock()
	}

	_, err := u.conn.WriteToUDP(payload, peer)
	return err
}

// Receive returns the next pending datagram without blocking.
func (u *UDP) Receive() (Datagram, bool) {
	select {
	case d := <-u.inbound:
		return d, true
	default:
		return Datagram{}, false
	}
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() string {
	return u.conn.LocalAddr().String()
}

// Close shuts the socket down and stops the reader.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.closed)
		err = u.conn.Close()
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
