package channel

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/tickwire/tickwire/pkg/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinResendInterval = 50 * time.Millisecond
	return cfg
}

func newTestPair(kind Kind, cfg Config) (*Channel, *Channel) {
	a := New(0, kind, cfg, nil, nil)
	b := New(0, kind, cfg, nil, nil)
	return a, b
}

// deliver feeds one flushed packet into the receiving channel.
func deliver(t *testing.T, to *Channel, pkt Outgoing, now time.Time) [][]byte {
	t.Helper()
	got, err := to.OnPacketReceived(pkt.Header, pkt.Body, now)
	if err != nil {
		t.Fatalf("OnPacketReceived() error: %v", err)
	}
	return got
}

func TestChannelOrderedDeliveryUnderLoss(t *testing.T) {
	a, b := newTestPair(KindOrderedReliable, testConfig())
	t0 := time.Now()

	// one packet per message, flushed individually
	var packets []Outgoing
	for i := 1; i <= 5; i++ {
		a.EnqueueSend([]byte(fmt.Sprintf("M%d", i)))
		out := a.OnFlushPoint(t0, 0, 0)
		if len(out) != 1 {
			t.Fatalf("flush %d produced %d packets, want 1", i, len(out))
		}
		packets = append(packets, out[0])
	}

	// the network drops the packet carrying M3
	var delivered []string
	for i, pkt := range packets {
		if i == 2 {
			continue
		}
		for _, msg := range deliver(t, b, pkt, t0) {
			delivered = append(delivered, string(msg))
		}
	}
	if want := []string{"M1", "M2"}; !equalStrings(delivered, want) {
		t.Fatalf("delivered %v before retransmission, want %v", delivered, want)
	}

	// past the resend interval, the flush point retransmits M3
	t1 := t0.Add(100 * time.Millisecond)
	resent := a.OnFlushPoint(t1, 0, 0)
	if len(resent) == 0 {
		t.Fatal("nothing retransmitted after the resend interval")
	}

	delivered = nil
	for _, pkt := range resent {
		for _, msg := range deliver(t, b, pkt, t1) {
			delivered = append(delivered, string(msg))
		}
	}
	if want := []string{"M3", "M4", "M5"}; !equalStrings(delivered, want) {
		t.Errorf("delivered %v after retransmission, want %v", delivered, want)
	}
}

func TestChannelDuplicatePacketIgnored(t *testing.T) {
	a, b := newTestPair(KindOrderedReliable, testConfig())
	t0 := time.Now()

	a.EnqueueSend([]byte("once"))
	out := a.OnFlushPoint(t0, 0, 0)
	if len(out) != 1 {
		t.Fatalf("flush produced %d packets, want 1", len(out))
	}

	first := deliver(t, b, out[0], t0)
	if len(first) != 1 || string(first[0]) != "once" {
		t.Fatalf("first delivery = %v", first)
	}
	// the same datagram again, as a duplicating network would produce
	if again := deliver(t, b, out[0], t0); len(again) != 0 {
		t.Errorf("duplicate packet delivered %d messages", len(again))
	}
}

func TestChannelAckRetiresMessages(t *testing.T) {
	a, b := newTestPair(KindOrderedReliable, testConfig())
	t0 := time.Now()

	a.EnqueueSend([]byte("payload"))
	for _, pkt := range a.OnFlushPoint(t0, 0, 0) {
		deliver(t, b, pkt, t0)
	}
	if !a.HasPending() {
		t.Fatal("message not pending before any ack")
	}

	// b owes an ack; its next flush carries it even with nothing to send
	back := b.OnFlushPoint(t0, 0, 0)
	if len(back) != 1 {
		t.Fatalf("ack flush produced %d packets, want 1", len(back))
	}
	for _, pkt := range back {
		deliver(t, a, pkt, t0)
	}
	if a.HasPending() {
		t.Error("message still pending after a covering ack")
	}

	// with the message retired, a later flush retransmits nothing
	t1 := t0.Add(time.Second)
	if out := a.OnFlushPoint(t1, 0, 0); len(out) != 0 {
		t.Errorf("retired message produced %d packets", len(out))
	}
}

func TestChannelRetransmitWaitsForInterval(t *testing.T) {
	a, _ := newTestPair(KindOrderedReliable, testConfig())
	t0 := time.Now()

	a.EnqueueSend([]byte("slow"))
	a.OnFlushPoint(t0, 0, 0)

	// well before the resend interval: nothing is due
	if out := a.OnFlushPoint(t0.Add(10*time.Millisecond), 0, 0); len(out) != 0 {
		t.Errorf("flush inside the resend interval produced %d packets", len(out))
	}

	// the interval scales with the RTT estimate
	rtt := 200 * time.Millisecond
	if out := a.OnFlushPoint(t0.Add(250*time.Millisecond), rtt, 0); len(out) != 0 {
		t.Errorf("flush inside the RTT-scaled interval produced %d packets", len(out))
	}
	if out := a.OnFlushPoint(t0.Add(400*time.Millisecond), rtt, 0); len(out) != 1 {
		t.Errorf("flush past the RTT-scaled interval produced %d packets, want 1", len(out))
	}
}

func TestChannelBatchesSmallMessages(t *testing.T) {
	a, b := newTestPair(KindOrderedReliable, testConfig())
	t0 := time.Now()

	for i := 0; i < 10; i++ {
		a.EnqueueSend([]byte("small"))
	}
	out := a.OnFlushPoint(t0, 0, 0)
	if len(out) != 1 {
		t.Fatalf("10 small messages rode %d packets, want 1", len(out))
	}
	if got := deliver(t, b, out[0], t0); len(got) != 10 {
		t.Errorf("delivered %d messages, want 10", len(got))
	}
}

func TestChannelFragmentationRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketPayload = 64
	a, b := newTestPair(KindOrderedReliable, cfg)
	t0 := time.Now()

	big := bytes.Repeat([]byte{0xC3}, 500)
	a.EnqueueSend(big)

	out := a.OnFlushPoint(t0, 0, 0)
	if len(out) < 2 {
		t.Fatalf("oversized message rode %d packets, want several", len(out))
	}
	for _, pkt := range out {
		if !pkt.Header.HasFlag(protocol.FlagFragment) {
			t.Fatal("fragment packet missing the fragment flag")
		}
	}

	// deliver the pieces out of order; only the last completes the message
	var delivered [][]byte
	for i := len(out) - 1; i >= 0; i-- {
		delivered = append(delivered, deliver(t, b, out[i], t0)...)
	}
	if len(delivered) != 1 {
		t.Fatalf("reassembly produced %d messages, want 1", len(delivered))
	}
	if !bytes.Equal(delivered[0], big) {
		t.Error("reassembled payload differs from the original")
	}
}

func TestChannelInterleavedFragmentGroups(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketPayload = 64
	a, b := newTestPair(KindUnorderedReliable, cfg)
	t0 := time.Now()

	first := bytes.Repeat([]byte{0x01}, 200)
	second := bytes.Repeat([]byte{0x02}, 200)
	a.EnqueueSend(first)
	a.EnqueueSend(second)

	out := a.OnFlushPoint(t0, 0, 0)
	// interleave packets from the two groups
	for i := 0; i < len(out); i += 2 {
		deliver(t, b, out[i], t0)
	}
	var delivered [][]byte
	for i := 1; i < len(out); i += 2 {
		delivered = append(delivered, deliver(t, b, out[i], t0)...)
	}

	if len(delivered) != 2 {
		t.Fatalf("reassembly produced %d messages, want 2", len(delivered))
	}
	seen := map[byte]bool{}
	for _, msg := range delivered {
		if len(msg) != 200 {
			t.Errorf("reassembled message is %d bytes, want 200", len(msg))
		}
		seen[msg[0]] = true
	}
	if !seen[0x01] || !seen[0x02] {
		t.Error("one of the interleaved messages was lost")
	}
}

func TestChannelRejectsUnfragmentableMessage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketPayload = 8
	a, _ := newTestPair(KindOrderedReliable, cfg)

	maxPiece := cfg.MaxPacketPayload - protocol.MessageBlockOverhead
	huge := make([]byte, maxPiece*protocol.MaxFragmentCount+1)
	if err := a.EnqueueSend(huge); err != ErrMessageTooLarge {
		t.Errorf("EnqueueSend(unfragmentable) = %v, want %v", err, ErrMessageTooLarge)
	}
	if a.HasPending() {
		t.Error("rejected message left send state behind")
	}
}

func TestChannelAssemblyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketPayload = 64
	cfg.AssemblyTimeout = time.Second
	a, b := newTestPair(KindUnorderedReliable, cfg)
	t0 := time.Now()

	a.EnqueueSend(bytes.Repeat([]byte{0xEE}, 300))
	out := a.OnFlushPoint(t0, 0, 0)

	// only the first piece ever arrives
	deliver(t, b, out[0], t0)
	if len(b.frag.assemblies) != 1 {
		t.Fatalf("assemblies = %d, want 1 partial", len(b.frag.assemblies))
	}

	b.SweepAssemblies(t0.Add(500 * time.Millisecond))
	if len(b.frag.assemblies) != 1 {
		t.Error("partial assembly swept before the timeout")
	}
	b.SweepAssemblies(t0.Add(1500 * time.Millisecond))
	if len(b.frag.assemblies) != 0 {
		t.Error("partial assembly survived the timeout")
	}
}

func TestChannelHeartbeatCarriesAcks(t *testing.T) {
	a, b := newTestPair(KindOrderedReliable, testConfig())
	t0 := time.Now()

	a.EnqueueSend([]byte("data"))
	for _, pkt := range a.OnFlushPoint(t0, 0, 0) {
		deliver(t, b, pkt, t0)
	}

	hb := b.HeartbeatPacket(0, t0)
	if hb.Header.Type != protocol.PacketTypeHeartbeat {
		t.Fatalf("heartbeat type = 0x%04X", hb.Header.Type)
	}
	deliver(t, a, hb, t0)
	if a.HasPending() {
		t.Error("heartbeat ack state did not retire the message")
	}
}

func TestChannelCloseDropsState(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketPayload = 64
	a, b := newTestPair(KindOrderedReliable, cfg)
	t0 := time.Now()

	a.EnqueueSend(bytes.Repeat([]byte{9}, 300))
	out := a.OnFlushPoint(t0, 0, 0)
	deliver(t, b, out[0], t0)

	a.Close()
	b.Close()
	if a.HasPending() {
		t.Error("pending sends survive Close")
	}
	if len(b.frag.assemblies) != 0 {
		t.Error("partial assemblies survive Close")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
