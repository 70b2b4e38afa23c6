package transport

import (
	"container/heap"
	"math/rand"
	"time"
)

// ConditionerConfig describes the link impairment to inject.
type ConditionerConfig struct {
	// LossRatio is the fraction of datagrams dropped outright.
	LossRatio float64 `yaml:"loss_ratio"`

	// DuplicateRatio is the fraction of datagrams delivered twice.
	DuplicateRatio float64 `yaml:"duplicate_ratio"`

	// HalfRTT delays each datagram by this much on average.
	HalfRTT time.Duration `yaml:"half_rtt"`

	// Jitter varies the delay uniformly within ±Jitter, which reorders
	// datagrams when it exceeds their spacing.
	Jitter time.Duration `yaml:"jitter"`
}

type conditionedItem struct {
	due time.Time
	d   Datagram
	seq int // tiebreak so heap order is stable
}

type conditionQueue []conditionedItem

func (q conditionQueue) Len() int { return len(q) }
func (q conditionQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}
func (q conditionQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *conditionQueue) Push(x any)        { *q = append(*q, x.(conditionedItem)) }
func (q *conditionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Conditioner decorates a transport with injected loss, duplication,
// latency, and reordering on the receive path. Used by tests and soak
// tooling to exercise the reliability layer against a hostile link.
type Conditioner struct {
	inner Transport
	cfg   ConditionerConfig
	rng   *rand.Rand
	queue conditionQueue
	seq   int
}

// NewConditioner wraps a transport. The seed makes an impairment
// schedule reproducible.
func NewConditioner(inner Transport, cfg ConditionerConfig, seed int64) *Conditioner {
	return &Conditioner{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Send passes through to the wrapped transport.
func (c *Conditioner) Send(addr string, payload []byte) error {
	return c.inner.Send(addr, payload)
}

// Receive drains the wrapped transport through the impairment schedule
// and returns a datagram whose delivery time has arrived, if any.
func (c *Conditioner) Receive() (Datagram, bool) {
	now := time.Now()

	for {
		d, ok := c.inner.Receive()
		if !ok {
			break
		}
		c.condition(now, d)
	}

	if len(c.queue) == 0 || c.queue[0].due.After(now) {
		return Datagram{}, false
	}
	item := heap.Pop(&c.queue).(conditionedItem)
	return item.d, true
}

func (c *Conditioner) condition(now time.Time, d Datagram) {
	copies := 1
	if c.rng.Float64() < c.cfg.LossRatio {
		copies--
	}
	if c.rng.Float64() < c.cfg.DuplicateRatio {
		copies++
	}

	for i := 0; i < copies; i++ {
		delay := c.cfg.HalfRTT
		if c.cfg.Jitter > 0 {
			delay += time.Duration(c.rng.Int63n(int64(2*c.cfg.Jitter))) - c.cfg.Jitter
		}
		if delay < 0 {
			delay = 0
		}
		heap.Push(&c.queue, conditionedItem{due: now.Add(delay), d: d, seq: c.seq})
		c.seq++
	}
}

// LocalAddr returns the wrapped transport's address.
func (c *Conditioner) LocalAddr() string { return c.inner.LocalAddr() }

// Close closes the wrapped transport and drops anything still queued.
func (c *Conditioner) Close() error {
	c.queue = nil
	return c.inner.Close()
}
