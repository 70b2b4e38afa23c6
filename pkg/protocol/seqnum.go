package protocol

// SeqNum is a wrapping 16-bit sequence number. Comparison is defined
// modulo the wrap point so that recently-wrapped numbers still order
// correctly within a sliding window of half the number space.
type SeqNum uint16

// NewerThan reports whether s is more recent than other, accounting for
// wraparound.
func (s SeqNum) NewerThan(other SeqNum) bool {
	const halfRange = 1<<15
	return (s > other && s-other <= halfRange) ||
		(s < other && other-s > halfRange)
}

// Diff returns the signed distance from other to s, in the range
// [-32768, 32767].
func (s SeqNum) Diff(other SeqNum) int16 {
	return int16(uint16(s) - uint16(other))
}

// Next returns the sequence number following s.
func (s SeqNum) Next() SeqNum {
	return s + 1
}
