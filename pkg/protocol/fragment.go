package protocol

// Fragment is one piece of an oversized message, carried as the sole
// payload of its packet with FlagFragment set in the header.
type Fragment struct {
	Group   uint16
	Index   uint16
	Count   uint16
	Payload []byte
}

// Fragmenter splits oversized message payloads into equal-size pieces
// bounded by the maximum fragment payload. The last piece may be
// shorter. Group ids increment per message so interleaved reassemblies
// never collide.
type Fragmenter struct {
	nextGroup uint16
}

// Split cuts payload into fragments no larger than maxPiece bytes.
// Payloads that already fit yield nil, signalling no fragmentation is
// needed.
func (f *Fragmenter) Split(payload []byte, maxPiece int) []Fragment {
	if maxPiece <= 0 || len(payload) <= maxPiece {
		return nil
	}

	count := (len(payload) + maxPiece - 1) / maxPiece
	if count > MaxFragmentCount {
		return nil
	}

	group := f.nextGroup
	f.nextGroup++

	frags := make([]Fragment, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxPiece
		end := start + maxPiece
		if end > len(payload) {
			end = len(payload)
		}
		piece := make([]byte, end-start)
		copy(piece, payload[start:end])
		frags = append(frags, Fragment{
			Group:   group,
			Index:   uint16(i),
			Count:   uint16(count),
			Payload: piece,
		})
	}
	return frags
}
