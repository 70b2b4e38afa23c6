package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTruncated    = errors.New("truncated packet")
	ErrInvalidBlock = errors.New("invalid message block")
)

// MessageBlock is one application message carried inside a data payload.
// Index is the message-level sequence number used by the reliability
// channel for dedupe and ordering; it is distinct from the packet-level
// sequence number in the header.
type MessageBlock struct {
	Index   SeqNum
	Payload []byte
}

// BuildPacket prepends the encoded header to a wire-ready body. The body
// of a steady-state packet is the nonce counter followed by ciphertext;
// handshake packets carry their payload in plaintext.
func BuildPacket(h *Header, body []byte) []byte {
	head := h.Encode()
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	return out
}

// ParsePacket decodes and validates the header of a raw datagram and
// returns it along with the remaining body bytes.
func ParsePacket(buf []byte) (Header, []byte, error) {
	var h Header
	if err := h.Decode(buf); err != nil {
		return Header{}, nil, err
	}
	if err := h.Validate(); err != nil {
		return Header{}, nil, err
	}
	return h, buf[h.Size():], nil
}

// EncodeBlocks serializes message blocks into a data payload. Each block
// is message index (2 bytes), payload length (2 bytes), payload.
func EncodeBlocks(blocks []MessageBlock) []byte {
	size := 0
	for i := range blocks {
		size += MessageBlockOverhead + len(blocks[i].Payload)
	}

	out := make([]byte, 0, size)
	var scratch [4]byte
	for i := range blocks {
		binary.BigEndian.PutUint16(scratch[0:2], uint16(blocks[i].Index))
		binary.BigEndian.PutUint16(scratch[2:4], uint16(len(blocks[i].Payload)))
		out = append(out, scratch[:]...)
		out = append(out, blocks[i].Payload...)
	}
	return out
}

// DecodeBlocks parses a data payload back into message blocks. A payload
// that does not consume exactly is rejected as malformed.
func DecodeBlocks(buf []byte) ([]MessageBlock, error) {
	var blocks []MessageBlock
	for len(buf) > 0 {
		if len(buf) < MessageBlockOverhead {
			return nil, ErrInvalidBlock
		}
		index := SeqNum(binary.BigEndian.Uint16(buf[0:2]))
		length := int(binary.BigEndian.Uint16(buf[2:4]))
		buf = buf[MessageBlockOverhead:]
		if len(buf) < length {
			return nil, ErrTruncated
		}
		payload := make([]byte, length)
		copy(payload, buf[:length])
		blocks = append(blocks, MessageBlock{Index: index, Payload: payload})
		buf = buf[length:]
	}
	return blocks, nil
}

// BlockSize returns the encoded size of one message block.
func BlockSize(payload []byte) int {
	return MessageBlockOverhead + len(payload)
}
