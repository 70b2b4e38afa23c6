package transport

import (
	"bytes"
	"testing"
	"time"
)

// waitReceive polls a non-blocking transport until a datagram arrives or
// the deadline passes.
func waitReceive(t *testing.T, tr Transport, timeout time.Duration) Datagram {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d, ok := tr.Receive(); ok {
			return d
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no datagram within the deadline")
	return Datagram{}
}

func TestUDPRoundTrip(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer b.Close()

	payload := []byte("over the socket")
	if err := a.Send(b.LocalAddr(), payload); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	d := waitReceive(t, b, time.Second)
	if !bytes.Equal(d.Payload, payload) {
		t.Errorf("payload = %q, want %q", d.Payload, payload)
	}
	if d.Addr != a.LocalAddr() {
		t.Errorf("datagram addr = %q, want %q", d.Addr, a.LocalAddr())
	}

	// and the reply path, using the address the datagram carried
	if err := b.Send(d.Addr, []byte("reply")); err != nil {
		t.Fatalf("reply Send() error: %v", err)
	}
	if got := waitReceive(t, a, time.Second); string(got.Payload) != "reply" {
		t.Errorf("reply payload = %q", got.Payload)
	}
}

func TestUDPReceiveNonBlocking(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer u.Close()

	done := make(chan struct{})
	go func() {
		u.Receive()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Receive() blocked on an empty queue")
	}
}

func TestUDPSendBadAddress(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer u.Close()

	if err := u.Send("not-an-address", []byte("x")); err == nil {
		t.Error("Send() to an unresolvable address succeeded")
	}
}

func TestUDPCloseIdempotent(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
