package channel

import (
	"time"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// assembly is one in-flight oversized message: collected pieces, how
// many have arrived, and when the first was seen.
type assembly struct {
	pieces    [][]byte
	collected int
	firstSeen time.Time
}

// fragmentReceiver reassembles oversized messages from their pieces.
// Reassembly requires every piece; partial assemblies are discarded
// after the assembly timeout so never-completed messages cannot grow
// memory without bound.
type fragmentReceiver struct {
	assemblies map[uint16]*assembly
	timeout    time.Duration
}

func newFragmentReceiver(timeout time.Duration) *fragmentReceiver {
	return &fragmentReceiver{
		assemblies: make(map[uint16]*assembly),
		timeout:    timeout,
	}
}

// accept adds one piece. When it is the last missing piece the
// reassembled payload is returned and the assembly destroyed. Duplicate
// pieces and pieces disagreeing with the assembly's declared total are
// ignored.
func (f *fragmentReceiver) accept(now time.Time, frag *protocol.Fragment) ([]byte, bool) {
	a, ok := f.assemblies[frag.Group]
	if !ok {
		a = &assembly{
			pieces:    make([][]byte, frag.Count),
			firstSeen: now,
		}
		f.assemblies[frag.Group] = a
	}

	if int(frag.Count) != len(a.pieces) || int(frag.Index) >= len(a.pieces) {
		return nil, false
	}
	if a.pieces[frag.Index] != nil {
		return nil, false
	}

	a.pieces[frag.Index] = frag.Payload
	a.collected++
	if a.collected < len(a.pieces) {
		return nil, false
	}

	delete(f.assemblies, frag.Group)
	size := 0
	for _, p := range a.pieces {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range a.pieces {
		out = append(out, p...)
	}
	return out, true
}

// sweep discards assemblies whose first piece arrived longer than the
// timeout ago, returning how many were dropped.
func (f *fragmentReceiver) sweep(now time.Time) int {
	expired := 0
	for group, a := range f.assemblies {
		if now.Sub(a.firstSeen) >= f.timeout {
			delete(f.assemblies, group)
			expired++
		}
	}
	return expired
}

// clear drops every partial assembly immediately. Used on teardown.
func (f *fragmentReceiver) clear() {
	f.assemblies = make(map[uint16]*assembly)
}
