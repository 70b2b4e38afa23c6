package server

import (
	"container/heap"

	"github.com/tickwire/tickwire/pkg/protocol"
)

type keyHeap []protocol.UserKey

func (h keyHeap) Len() int            { return len(h) }
func (h keyHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h keyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x any)         { *h = append(*h, x.(protocol.UserKey)) }
func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	k := old[n-1]
	*h = old[:n-1]
	return k
}

// UserKeyPool is a recycling pool of user keys that always hands out the
// smallest available value, keeping keys dense enough to serve as slice
// indexes. A key returns to the pool only after its connection's
// teardown has fully completed, so no state can leak across a recycling
// boundary.
type UserKeyPool struct {
	next     protocol.UserKey
	max      protocol.UserKey
	freeList keyHeap
}

// NewUserKeyPool creates a pool of at most capacity keys.
func NewUserKeyPool(capacity int) *UserKeyPool {
	return &UserKeyPool{max: protocol.UserKey(capacity)}
}

// Get returns the smallest available key, or ok=false when the pool is
// exhausted.
func (p *UserKeyPool) Get() (protocol.UserKey, bool) {
	if p.freeList.Len() > 0 {
		return heap.Pop(&p.freeList).(protocol.UserKey), true
	}
	if p.next >= p.max {
		return 0, false
	}
	k := p.next
	p.next++
	return k, true
}

// Put returns a key to the pool for reuse.
func (p *UserKeyPool) Put(k protocol.UserKey) {
	heap.Push(&p.freeList, k)
}
