package protocol

import (
	"encoding/binary"
	"errors"
)

var ErrInvalidHandshake = errors.New("invalid handshake payload")

// Handshake reject reasons
const (
	RejectReasonFull    uint8 = 0x01 // No user slots available
	RejectReasonToken   uint8 = 0x02 // Validation token refused
	RejectReasonKey     uint8 = 0x03 // Key exchange failed
	RejectReasonUnknown uint8 = 0xFF
)

const (
	clientHelloSize  = 16 + 32
	serverAcceptSize = 32 + 2
	serverRejectSize = 1
)

// ClientHello is handshake round 1: the client's connection validation
// token combined with its ephemeral public key.
type ClientHello struct {
	Token     [16]byte // Connection validation token (UUID)
	PublicKey [32]byte // Client's ephemeral X25519 public key
}

// Encode encodes the hello payload to bytes
func (m *ClientHello) Encode() []byte {
	buf := make([]byte, clientHelloSize)
	copy(buf[0:16], m.Token[:])
	copy(buf[16:48], m.PublicKey[:])
	return buf
}

// Decode decodes the hello payload from bytes
func (m *ClientHello) Decode(buf []byte) error {
	if len(buf) < clientHelloSize {
		return ErrInvalidHandshake
	}
	copy(m.Token[:], buf[0:16])
	copy(m.PublicKey[:], buf[16:48])
	return nil
}

// ServerAccept is handshake round 2: the server's acceptance, its
// ephemeral public key, and the assigned user key.
type ServerAccept struct {
	PublicKey [32]byte // Server's ephemeral X25519 public key
	UserKey   UserKey  // Slot assigned to this client
}

// Encode encodes the accept payload to bytes
func (m *ServerAccept) Encode() []byte {
	buf := make([]byte, serverAcceptSize)
	copy(buf[0:32], m.PublicKey[:])
	binary.BigEndian.PutUint16(buf[32:34], uint16(m.UserKey))
	return buf
}

// Decode decodes the accept payload from bytes
func (m *ServerAccept) Decode(buf []byte) error {
	if len(buf) < serverAcceptSize {
		return ErrInvalidHandshake
	}
	copy(m.PublicKey[:], buf[0:32])
	m.UserKey = UserKey(binary.BigEndian.Uint16(buf[32:34]))
	return nil
}

// ServerReject tells the client its handshake attempt was refused and no
// connection was created.
type ServerReject struct {
	Reason uint8
}

// Encode encodes the reject payload to bytes
func (m *ServerReject) Encode() []byte {
	return []byte{m.Reason}
}

// Decode decodes the reject payload from bytes
func (m *ServerReject) Decode(buf []byte) error {
	if len(buf) < serverRejectSize {
		return ErrInvalidHandshake
	}
	m.Reason = buf[0]
	return nil
}
