package connection

import (
	"time"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// EWMA weights for RTT smoothing. Reacts over a few seconds at typical
// tick rates.
const (
	rttTrendWeight  = 0.5
	rttSampleWeight = 1.0 - rttTrendWeight
)

// sentKey identifies one in-flight packet across channels.
type sentKey struct {
	ch  protocol.ChannelID
	seq protocol.SeqNum
}

// TimeManager owns the connection's tick counter and its round-trip-time
// estimate. RTT samples come from the ack timestamps surfaced by the
// reliability channels; ticks advance from wall-clock time divided by
// the configured tick duration.
type TimeManager struct {
	tickDuration time.Duration
	currentTick  protocol.Tick
	lastTickAt   time.Time

	rttMs      float64
	jitterMs   float64
	haveSample bool

	sent map[sentKey]time.Time

	flushRequested bool
}

// NewTimeManager starts the tick clock at now.
func NewTimeManager(tickDuration time.Duration, now time.Time) *TimeManager {
	return &TimeManager{
		tickDuration: tickDuration,
		lastTickAt:   now,
		rttMs:        50, // seed until the first sample arrives
		sent:         make(map[sentKey]time.Time),
	}
}

// OnSendPacket records the transmission time of an outgoing packet.
func (t *TimeManager) OnSendPacket(ch protocol.ChannelID, seq protocol.SeqNum, at time.Time) {
	t.sent[sentKey{ch, seq}] = at
}

// OnAckReceived folds the ack timestamp of a tracked packet into the RTT
// estimate. A measured interval of zero is a valid sample: the estimate
// is a weighted average, so it cannot divide by the elapsed time.
func (t *TimeManager) OnAckReceived(ch protocol.ChannelID, seq protocol.SeqNum, at time.Time) {
	key := sentKey{ch, seq}
	sentAt, ok := t.sent[key]
	if !ok {
		return
	}
	delete(t.sent, key)

	elapsed := at.Sub(sentAt)
	if elapsed < 0 {
		return
	}
	t.SampleRTT(elapsed)
}

// SampleRTT feeds one round-trip measurement into the smoothed estimate.
func (t *TimeManager) SampleRTT(rtt time.Duration) {
	ms := float64(rtt) / float64(time.Millisecond)
	if !t.haveSample {
		t.haveSample = true
		t.rttMs = ms
		t.jitterMs = 0
		return
	}

	t.rttMs = rttTrendWeight*t.rttMs + rttSampleWeight*ms

	diff := ms - t.rttMs
	if diff < 0 {
		diff = -diff
	}
	t.jitterMs = rttTrendWeight*t.jitterMs + rttSampleWeight*diff
}

// RTT returns the smoothed round-trip estimate.
func (t *TimeManager) RTT() time.Duration {
	return time.Duration(t.rttMs * float64(time.Millisecond))
}

// Jitter returns the smoothed deviation of recent RTT samples.
func (t *TimeManager) Jitter() time.Duration {
	return time.Duration(t.jitterMs * float64(time.Millisecond))
}

// RequestFlush marks that a message was enqueued. The flush policy
// favors latency over batching: pending sends go out at the next poll
// rather than waiting for a tick boundary.
func (t *TimeManager) RequestFlush() {
	t.flushRequested = true
}

// ShouldFlushNow reports whether a flush point is due.
func (t *TimeManager) ShouldFlushNow() bool {
	return t.flushRequested
}

// MarkFlushed clears the pending flush request.
func (t *TimeManager) MarkFlushed() {
	t.flushRequested = false
}

// CurrentTick returns the tick the connection is currently on.
func (t *TimeManager) CurrentTick() protocol.Tick {
	return t.currentTick
}

// AdvanceTickIfDue advances the tick clock and returns every tick that
// elapsed, in order. Ticks are never skipped or merged: if the caller
// stalled across several tick durations, each missed tick is reported
// individually so the application observes every one exactly once.
func (t *TimeManager) AdvanceTickIfDue(now time.Time) []protocol.Tick {
	elapsed := now.Sub(t.lastTickAt)
	if elapsed < t.tickDuration {
		return nil
	}

	n := int(elapsed / t.tickDuration)
	ticks := make([]protocol.Tick, 0, n)
	for i := 0; i < n; i++ {
		t.currentTick++
		ticks = append(ticks, t.currentTick)
	}
	t.lastTickAt = t.lastTickAt.Add(time.Duration(n) * t.tickDuration)

	t.pruneSent(now)
	return ticks
}

// pruneSent forgets send timestamps for packets whose ack will never
// arrive, keeping the tracking map bounded.
func (t *TimeManager) pruneSent(now time.Time) {
	const horizon = 10 * time.Second
	for key, at := range t.sent {
		if now.Sub(at) > horizon {
			delete(t.sent, key)
		}
	}
}
