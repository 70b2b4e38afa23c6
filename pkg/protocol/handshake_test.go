package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestClientHelloEncodeDecode(t *testing.T) {
	var hello ClientHello
	copy(hello.Token[:], bytes.Repeat([]byte{0x11}, 16))
	copy(hello.PublicKey[:], bytes.Repeat([]byte{0x22}, 32))

	var decoded ClientHello
	if err := decoded.Decode(hello.Encode()); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded != hello {
		t.Errorf("decoded = %+v, want %+v", decoded, hello)
	}
}

func TestServerAcceptEncodeDecode(t *testing.T) {
	var accept ServerAccept
	copy(accept.PublicKey[:], bytes.Repeat([]byte{0x33}, 32))
	accept.UserKey = 7

	var decoded ServerAccept
	if err := decoded.Decode(accept.Encode()); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded != accept {
		t.Errorf("decoded = %+v, want %+v", decoded, accept)
	}
}

func TestServerRejectEncodeDecode(t *testing.T) {
	reject := ServerReject{Reason: RejectReasonFull}

	var decoded ServerReject
	if err := decoded.Decode(reject.Encode()); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Reason != RejectReasonFull {
		t.Errorf("reason = %d, want %d", decoded.Reason, RejectReasonFull)
	}
}

func TestHandshakeDecodeShortBuffers(t *testing.T) {
	var hello ClientHello
	if err := hello.Decode(make([]byte, 47)); !errors.Is(err, ErrInvalidHandshake) {
		t.Errorf("ClientHello.Decode(short) = %v, want %v", err, ErrInvalidHandshake)
	}
	var accept ServerAccept
	if err := accept.Decode(make([]byte, 33)); !errors.Is(err, ErrInvalidHandshake) {
		t.Errorf("ServerAccept.Decode(short) = %v, want %v", err, ErrInvalidHandshake)
	}
	var reject ServerReject
	if err := reject.Decode(nil); !errors.Is(err, ErrInvalidHandshake) {
		t.Errorf("ServerReject.Decode(nil) = %v, want %v", err, ErrInvalidHandshake)
	}
}

func TestIsHandshakeType(t *testing.T) {
	handshake := []uint16{PacketTypeClientHello, PacketTypeServerAccept, PacketTypeServerReject}
	for _, pt := range handshake {
		if !IsHandshakeType(pt) {
			t.Errorf("IsHandshakeType(0x%04X) = false", pt)
		}
	}
	steady := []uint16{PacketTypeData, PacketTypeHeartbeat, PacketTypePing, PacketTypePong, PacketTypeDisconnect}
	for _, pt := range steady {
		if IsHandshakeType(pt) {
			t.Errorf("IsHandshakeType(0x%04X) = true", pt)
		}
	}
}
