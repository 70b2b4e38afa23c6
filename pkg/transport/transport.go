package transport

// Datagram is one opaque payload paired with its peer address.
type Datagram struct {
	Addr    string
	Payload []byte
}

// Transport is the raw datagram collaborator beneath the protocol core.
// It is unordered and unreliable: it may drop, duplicate, or reorder.
// Send is best-effort and non-blocking; Receive returns immediately with
// ok=false when nothing is pending, so callers can drive the core from
// any concurrency model.
type Transport interface {
	Send(addr string, payload []byte) error
	Receive() (Datagram, bool)
	LocalAddr() string
	Close() error
}
