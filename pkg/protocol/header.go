package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrInvalidMagic   = errors.New("invalid protocol magic")
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrInvalidHeader  = errors.New("invalid header")
	ErrInvalidFragment = errors.New("invalid fragment metadata")
)

// Header is the per-packet plaintext header. It carries the sender's
// current sequence number, the cumulative ack state for the receive
// direction, the current tick, the channel id, and fragment metadata
// when the payload is a single message fragment.
type Header struct {
	Magic   uint32 // Magic number (0x544B5752)
	Version uint16 // Protocol version
	Type    uint16 // Packet type
	Seq     SeqNum // Sender's packet sequence number (per channel)
	AckBase SeqNum // Most recent remote sequence number received
	AckBits uint32 // Receipt bitfield for the 32 packets before AckBase
	Tick    Tick   // Sender's current tick
	Channel ChannelID
	Flags   uint8

	// Fragment metadata, valid only when FlagFragment is set.
	FragGroup uint16 // Identifies which oversized message this piece belongs to
	FragIndex uint16 // Position of this piece within the message
	FragCount uint16 // Total number of pieces
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int {
	if h.Flags&FlagFragment != 0 {
		return HeaderSize + FragmentExtSize
	}
	return HeaderSize
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Type)
	binary.BigEndian.PutUint16(buf[8:10], uint16(h.Seq))
	binary.BigEndian.PutUint16(buf[10:12], uint16(h.AckBase))
	binary.BigEndian.PutUint32(buf[12:16], h.AckBits)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Tick))
	buf[20] = uint8(h.Channel)
	buf[21] = h.Flags

	if h.Flags&FlagFragment != 0 {
		binary.BigEndian.PutUint16(buf[22:24], h.FragGroup)
		binary.BigEndian.PutUint16(buf[24:26], h.FragIndex)
		binary.BigEndian.PutUint16(buf[26:28], h.FragCount)
	}

	return buf
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Type = binary.BigEndian.Uint16(buf[6:8])
	h.Seq = SeqNum(binary.BigEndian.Uint16(buf[8:10]))
	h.AckBase = SeqNum(binary.BigEndian.Uint16(buf[10:12]))
	h.AckBits = binary.BigEndian.Uint32(buf[12:16])
	h.Tick = Tick(binary.BigEndian.Uint32(buf[16:20]))
	h.Channel = ChannelID(buf[20])
	h.Flags = buf[21]

	if h.Flags&FlagFragment != 0 {
		if len(buf) < HeaderSize+FragmentExtSize {
			return ErrInvalidHeader
		}
		h.FragGroup = binary.BigEndian.Uint16(buf[22:24])
		h.FragIndex = binary.BigEndian.Uint16(buf[24:26])
		h.FragCount = binary.BigEndian.Uint16(buf[26:28])
	}

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}

	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}

	if h.Flags&FlagFragment != 0 {
		if h.FragCount == 0 || h.FragCount > MaxFragmentCount {
			return ErrInvalidFragment
		}
		if h.FragIndex >= h.FragCount {
			return ErrInvalidFragment
		}
	}

	return nil
}

// HasFlag checks if a flag is set
func (h *Header) HasFlag(flag uint8) bool {
	return (h.Flags & flag) != 0
}

// SetFlag sets a flag
func (h *Header) SetFlag(flag uint8) {
	h.Flags |= flag
}

// NewHeader returns a header of the given type with magic and version
// filled in.
func NewHeader(packetType uint16) Header {
	return Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Type:    packetType,
	}
}
