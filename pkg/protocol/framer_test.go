package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeBlocks(t *testing.T) {
	blocks := []MessageBlock{
		{Index: 0, Payload: []byte("alpha")},
		{Index: 1, Payload: []byte{}},
		{Index: 65535, Payload: bytes.Repeat([]byte{0xAB}, 300)},
	}

	decoded, err := DecodeBlocks(EncodeBlocks(blocks))
	if err != nil {
		t.Fatalf("DecodeBlocks() error: %v", err)
	}
	if len(decoded) != len(blocks) {
		t.Fatalf("decoded %d blocks, want %d", len(decoded), len(blocks))
	}
	for i := range blocks {
		if decoded[i].Index != blocks[i].Index {
			t.Errorf("block %d index = %d, want %d", i, decoded[i].Index, blocks[i].Index)
		}
		if !bytes.Equal(decoded[i].Payload, blocks[i].Payload) {
			t.Errorf("block %d payload mismatch", i)
		}
	}
}

func TestDecodeBlocksMalformed(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"dangling block header", []byte{0x00, 0x01, 0x00}, ErrInvalidBlock},
		{"length beyond payload", []byte{0x00, 0x00, 0x00, 0x05, 0xAA}, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBlocks(tt.buf); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeBlocks() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeBlocksEmpty(t *testing.T) {
	blocks, err := DecodeBlocks(nil)
	if err != nil {
		t.Fatalf("DecodeBlocks(nil) error: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("DecodeBlocks(nil) returned %d blocks", len(blocks))
	}
}

func TestBuildParsePacket(t *testing.T) {
	h := NewHeader(PacketTypeData)
	h.Seq = 3
	h.Channel = 1
	body := []byte("ciphertext bytes")

	parsed, gotBody, err := ParsePacket(BuildPacket(&h, body))
	if err != nil {
		t.Fatalf("ParsePacket() error: %v", err)
	}
	if parsed != h {
		t.Errorf("parsed header = %+v, want %+v", parsed, h)
	}
	if !bytes.Equal(gotBody, body) {
		t.Errorf("parsed body = %q, want %q", gotBody, body)
	}
}

func TestParsePacketRejectsGarbage(t *testing.T) {
	if _, _, err := ParsePacket(bytes.Repeat([]byte{0xFF}, 64)); err == nil {
		t.Error("ParsePacket accepted garbage")
	}
	if _, _, err := ParsePacket([]byte{0x54}); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("ParsePacket(short) = %v, want %v", err, ErrInvalidHeader)
	}
}
