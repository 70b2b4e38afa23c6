package channel

import "github.com/tickwire/tickwire/pkg/protocol"

// inbound is a message accepted by a receiver, possibly a fragment piece
// still awaiting reassembly.
type inbound struct {
	index    protocol.SeqNum
	payload  []byte
	fragment *protocol.Fragment
}

// receiver is the receive half of a channel kind. accept returns false
// for duplicates; drain yields messages ready for the next stage in the
// kind's ordering guarantee.
type receiver interface {
	accept(msg inbound) bool
	drain() []inbound
}

// orderedReceiver holds messages received out of order until all lower
// indexes have been delivered, then releases the contiguous prefix.
// Delivery is strictly increasing, gap-free, and duplicate-free.
type orderedReceiver struct {
	nextDeliver protocol.SeqNum
	window      []*inbound // slot i holds index nextDeliver+i
	ready       []inbound
}

func newOrderedReceiver() *orderedReceiver {
	return &orderedReceiver{}
}

func (r *orderedReceiver) accept(msg inbound) bool {
	d := int(msg.index.Diff(r.nextDeliver))
	if d < 0 {
		// already delivered, sliding window moved past it
		return false
	}
	for len(r.window) <= d {
		r.window = append(r.window, nil)
	}
	if r.window[d] != nil {
		return false
	}
	m := msg
	r.window[d] = &m

	// release the contiguous prefix
	for len(r.window) > 0 && r.window[0] != nil {
		r.ready = append(r.ready, *r.window[0])
		r.window = r.window[1:]
		r.nextDeliver++
	}
	return true
}

func (r *orderedReceiver) drain() []inbound {
	out := r.ready
	r.ready = nil
	return out
}

// unorderedReceiver delivers every newly seen message immediately, in
// arrival order, while guaranteeing each index is delivered exactly
// once.
type unorderedReceiver struct {
	oldestUnseen protocol.SeqNum
	seen         []bool // slot i tracks index oldestUnseen+i
	ready        []inbound
}

func newUnorderedReceiver() *unorderedReceiver {
	return &unorderedReceiver{}
}

func (r *unorderedReceiver) accept(msg inbound) bool {
	d := int(msg.index.Diff(r.oldestUnseen))
	if d < 0 {
		return false
	}
	for len(r.seen) <= d {
		r.seen = append(r.seen, false)
	}
	if r.seen[d] {
		return false
	}
	r.seen[d] = true
	r.ready = append(r.ready, msg)

	// slide past the fully seen prefix
	for len(r.seen) > 0 && r.seen[0] {
		r.seen = r.seen[1:]
		r.oldestUnseen++
	}
	return true
}

func (r *unorderedReceiver) drain() []inbound {
	out := r.ready
	r.ready = nil
	return out
}
