package channel

import "github.com/tickwire/tickwire/pkg/protocol"

// sequenceBuffer is a fixed-size ring recording which sequence numbers
// have been seen recently. Entries older than the ring's span behind the
// newest sequence are rejected, which gives the receive side its
// sliding dedupe window.
type sequenceBuffer struct {
	next    protocol.SeqNum // one past the newest recorded sequence
	set     []bool
	seqs    []protocol.SeqNum
	started bool
}

func newSequenceBuffer(size int) *sequenceBuffer {
	return &sequenceBuffer{
		set:  make([]bool, size),
		seqs: make([]protocol.SeqNum, size),
	}
}

// latest returns the newest recorded sequence number.
func (b *sequenceBuffer) latest() protocol.SeqNum {
	return b.next - 1
}

// record marks seq as seen. It returns false when seq is too old to fit
// in the window.
func (b *sequenceBuffer) record(seq protocol.SeqNum) bool {
	if b.started {
		oldest := b.next - protocol.SeqNum(len(b.set))
		if int(seq.Diff(oldest)) < 0 {
			return false
		}
	}
	b.advance(seq)

	i := b.index(seq)
	b.set[i] = true
	b.seqs[i] = seq
	return true
}

// contains reports whether seq was previously recorded and is still
// within the window.
func (b *sequenceBuffer) contains(seq protocol.SeqNum) bool {
	i := b.index(seq)
	return b.set[i] && b.seqs[i] == seq
}

// advance moves the window forward, clearing entries that fall out of
// the ring as newer sequences replace them.
func (b *sequenceBuffer) advance(seq protocol.SeqNum) {
	if !b.started {
		b.started = true
		b.next = seq + 1
		return
	}
	if !seq.NewerThan(b.latest()) {
		return
	}

	gap := int(seq.Diff(b.latest()))
	if gap >= len(b.set) {
		for i := range b.set {
			b.set[i] = false
		}
	} else {
		for s := b.next; s != seq+1; s++ {
			i := b.index(s)
			b.set[i] = false
		}
	}
	b.next = seq + 1
}

func (b *sequenceBuffer) index(seq protocol.SeqNum) int {
	return int(seq) % len(b.set)
}
