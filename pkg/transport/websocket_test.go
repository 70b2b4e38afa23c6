package transport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebSocketRoundTrip(t *testing.T) {
	ws := NewWSServer("gateway")
	httpSrv := httptest.NewServer(http.HandlerFunc(ws.Handler))
	defer httpSrv.Close()
	defer ws.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	cl, err := DialWS(url)
	if err != nil {
		t.Fatalf("DialWS() error: %v", err)
	}
	defer cl.Close()

	payload := []byte("binary datagram")
	if err := cl.Send("gateway", payload); err != nil {
		t.Fatalf("client Send() error: %v", err)
	}

	d := waitReceive(t, ws, time.Second)
	if !bytes.Equal(d.Payload, payload) {
		t.Errorf("server received %q, want %q", d.Payload, payload)
	}

	// reply to the peer address the datagram carried
	if err := ws.Send(d.Addr, []byte("reply")); err != nil {
		t.Fatalf("server Send() error: %v", err)
	}
	if got := waitReceive(t, cl, time.Second); string(got.Payload) != "reply" {
		t.Errorf("client received %q, want reply", got.Payload)
	}
}

func TestWebSocketServerUnknownPeer(t *testing.T) {
	ws := NewWSServer("gateway")
	defer ws.Close()

	// sending to a peer that never connected behaves like packet loss
	if err := ws.Send("nobody", []byte("void")); err != nil {
		t.Errorf("Send() to an unknown peer = %v, want nil", err)
	}
}
