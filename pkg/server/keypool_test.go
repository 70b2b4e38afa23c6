package server

import (
	"testing"

	"github.com/tickwire/tickwire/pkg/protocol"
)

func TestUserKeyPoolHandsOutDenseKeys(t *testing.T) {
	p := NewUserKeyPool(4)
	for want := protocol.UserKey(0); want < 4; want++ {
		k, ok := p.Get()
		if !ok {
			t.Fatalf("pool exhausted at key %d", want)
		}
		if k != want {
			t.Errorf("Get() = %d, want %d", k, want)
		}
	}
	if _, ok := p.Get(); ok {
		t.Error("Get() succeeded past capacity")
	}
}

func TestUserKeyPoolRecyclesSmallestFirst(t *testing.T) {
	p := NewUserKeyPool(8)
	for i := 0; i < 5; i++ {
		p.Get()
	}

	p.Put(3)
	p.Put(1)
	p.Put(4)

	if k, _ := p.Get(); k != 1 {
		t.Errorf("Get() after recycling = %d, want 1", k)
	}
	if k, _ := p.Get(); k != 3 {
		t.Errorf("Get() = %d, want 3", k)
	}
	if k, _ := p.Get(); k != 4 {
		t.Errorf("Get() = %d, want 4", k)
	}
	// the free list is drained; fresh allocation resumes
	if k, _ := p.Get(); k != 5 {
		t.Errorf("Get() = %d, want 5", k)
	}
}

func TestUserKeyPoolRecycleRestoresCapacity(t *testing.T) {
	p := NewUserKeyPool(1)
	k, ok := p.Get()
	if !ok {
		t.Fatal("empty pool")
	}
	if _, ok := p.Get(); ok {
		t.Fatal("capacity 1 pool returned a second key")
	}
	p.Put(k)
	if _, ok := p.Get(); !ok {
		t.Error("recycled key not available again")
	}
}
