package transport

import "sync"

// Loopback is an in-memory datagram transport. Pair returns two
// endpoints wired to each other; tests use them to run full
// client/server exchanges without sockets.
type Loopback struct {
	addr string
	peer *Loopback

	mu    sync.Mutex
	queue []Datagram
}

// Pair creates two connected loopback endpoints.
func Pair(addrA, addrB string) (*Loopback, *Loopback) {
	a := &Loopback{addr: addrA}
	b := &Loopback{addr: addrB}
	a.peer = b
	b.peer = a
	return a, b
}

// Send copies the payload into the peer's queue.
func (l *Loopback) Send(_ string, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	l.peer.mu.Lock()
	l.peer.queue = append(l.peer.queue, Datagram{Addr: l.addr, Payload: buf})
	l.peer.mu.Unlock()
	return nil
}

// Receive pops the next queued datagram without blocking.
func (l *Loopback) Receive() (Datagram, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return Datagram{}, false
	}
	d := l.queue[0]
	l.queue = l.queue[1:]
	return d, true
}

// LocalAddr returns the endpoint's name.
func (l *Loopback) LocalAddr() string { return l.addr }

// Close discards anything still queued.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()
	return nil
}
