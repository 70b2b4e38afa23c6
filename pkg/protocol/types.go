package protocol

// Protocol constants
const (
	// Magic number for the tickwire protocol ('TKWR')
	ProtocolMagic = 0x544B5752

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// Header size (fixed portion, without fragment extension)
	HeaderSize = 22

	// FragmentExtSize is the size of the fragment metadata extension
	// appended to the header when FlagFragment is set.
	FragmentExtSize = 6

	// NonceSize is the size of the per-packet nonce counter prefixed to
	// every encrypted payload.
	NonceSize = 8
)

// Packet types
const (
	// Steady state (0x00xx)
	PacketTypeData       uint16 = 0x0001
	PacketTypeHeartbeat  uint16 = 0x0002
	PacketTypePing       uint16 = 0x0003
	PacketTypePong       uint16 = 0x0004
	PacketTypeDisconnect uint16 = 0x0005

	// Handshake (0x01xx) — plaintext, key-exchange-only variant
	PacketTypeClientHello  uint16 = 0x0101
	PacketTypeServerAccept uint16 = 0x0102
	PacketTypeServerReject uint16 = 0x0103
)

// Flags
const (
	FlagFragment uint8 = 0x01 // Payload is a single message fragment
)

// Limits
const (
	// AckBitfieldSize is how many packets prior to the ack base each
	// outgoing packet can acknowledge via the bitfield.
	AckBitfieldSize = 32

	// MaxFragmentCount bounds how many pieces one message may be split
	// into.
	MaxFragmentCount = 1024

	// DefaultMaxPayload is the default maximum datagram payload handed
	// to the transport, header included.
	DefaultMaxPayload = 1200

	// MessageBlockOverhead is the per-message framing cost inside a data
	// payload: message index (2) + length (2).
	MessageBlockOverhead = 4
)

// UserKey is a small recycled integer assigned to a client by the server
// during the handshake. Values are reused only after the prior holder's
// connection is fully torn down.
type UserKey uint16

// Tick is one discrete simulation step of the lockstep application.
type Tick uint32

// ChannelID identifies one reliability channel within a connection.
type ChannelID uint8

// IsHandshakeType reports whether a packet type belongs to the plaintext
// handshake exchange.
func IsHandshakeType(t uint16) bool {
	return t == PacketTypeClientHello || t == PacketTypeServerAccept || t == PacketTypeServerReject
}
