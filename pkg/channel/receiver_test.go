package channel

import (
	"testing"

	"github.com/tickwire/tickwire/pkg/protocol"
)

func drainPayloads(r receiver) []string {
	var out []string
	for _, m := range r.drain() {
		out = append(out, string(m.payload))
	}
	return out
}

func TestOrderedReceiverHoldsGaps(t *testing.T) {
	r := newOrderedReceiver()

	// indexes 0, 2, 4 arrive; 1 and 3 are missing
	r.accept(inbound{index: 0, payload: []byte("m0")})
	r.accept(inbound{index: 2, payload: []byte("m2")})
	r.accept(inbound{index: 4, payload: []byte("m4")})

	got := drainPayloads(r)
	if len(got) != 1 || got[0] != "m0" {
		t.Fatalf("delivered %v, want only m0", got)
	}

	// 1 arrives: releases 1 and the held 2
	r.accept(inbound{index: 1, payload: []byte("m1")})
	got = drainPayloads(r)
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("delivered %v, want m1 then m2", got)
	}

	// 3 arrives: releases 3 and the held 4
	r.accept(inbound{index: 3, payload: []byte("m3")})
	got = drainPayloads(r)
	if len(got) != 2 || got[0] != "m3" || got[1] != "m4" {
		t.Fatalf("delivered %v, want m3 then m4", got)
	}
}

func TestOrderedReceiverRejectsDuplicates(t *testing.T) {
	r := newOrderedReceiver()

	if !r.accept(inbound{index: 0, payload: []byte("m0")}) {
		t.Fatal("fresh message rejected")
	}
	r.drain()

	// a retransmitted copy of a delivered message
	if r.accept(inbound{index: 0, payload: []byte("m0")}) {
		t.Error("delivered message accepted again")
	}
	// a duplicate of a message still held in the window
	r.accept(inbound{index: 2, payload: []byte("m2")})
	if r.accept(inbound{index: 2, payload: []byte("m2")}) {
		t.Error("held message accepted again")
	}
	if got := drainPayloads(r); len(got) != 0 {
		t.Errorf("duplicates produced deliveries: %v", got)
	}
}

func TestUnorderedReceiverDeliversImmediately(t *testing.T) {
	r := newUnorderedReceiver()

	r.accept(inbound{index: 3, payload: []byte("m3")})
	r.accept(inbound{index: 0, payload: []byte("m0")})

	got := drainPayloads(r)
	if len(got) != 2 || got[0] != "m3" || got[1] != "m0" {
		t.Fatalf("delivered %v, want m3 then m0 in arrival order", got)
	}
}

func TestUnorderedReceiverExactlyOnce(t *testing.T) {
	r := newUnorderedReceiver()

	order := []protocol.SeqNum{2, 0, 2, 1, 0, 3, 3}
	for _, idx := range order {
		r.accept(inbound{index: idx, payload: []byte{byte(idx)}})
	}

	seen := make(map[byte]int)
	for _, m := range r.drain() {
		seen[m.payload[0]]++
	}
	for idx := byte(0); idx < 4; idx++ {
		if seen[idx] != 1 {
			t.Errorf("index %d delivered %d times, want exactly once", idx, seen[idx])
		}
	}

	// far later, a straggling duplicate of a retired index
	if r.accept(inbound{index: 0, payload: []byte{0}}) {
		t.Error("retired index accepted after the window slid past it")
	}
}
