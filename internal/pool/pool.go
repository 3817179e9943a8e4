// Package pool provides the bounded-capacity allocator backing this
// repository's static-memory build mode (spec §5 "Memory policy": "static
// mode uses fixed-capacity arrays with a CHECK_ROOM_FOR_ONE_MORE pattern and
// returns NoMem when full"). It is grounded on the original implementation's
// mem.c fixed-size-array pools (e.g. init_receivers/init_tracked_sources),
// generalized with Go generics into one reusable bounded slice instead of
// one hand-written array-plus-count pair per entity type.
//
// The dynamic-memory build mode used elsewhere in this repository (plain
// slices and maps, growing under the GC) needs no equivalent: Static is an
// alternate allocator for callers that opt into a capacity ceiling.
package pool

import (
	"fmt"

	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Static is a fixed-capacity object pool. Acquire returns sacnerr.ErrNoMem
// once cap items are held; Release returns a slot for reuse. Static is not
// safe for concurrent use without external synchronization, matching every
// other entity this repository protects with the caller's own lock (spec
// §5's single coarse-grained "sacn lock").
type Static[T any] struct {
	items []T
	free  []int
	inUse []bool
	cap   int
}

// NewStatic creates a pool with room for exactly capacity items.
func NewStatic[T any](capacity int) *Static[T] {
	p := &Static[T]{
		items: make([]T, capacity),
		free:  make([]int, capacity),
		inUse: make([]bool, capacity),
		cap:   capacity,
	}
	for i := 0; i < capacity; i++ {
		p.free[i] = capacity - 1 - i // pop from the end; index 0 handed out first
	}
	return p
}

// Acquire reserves a slot and returns a pointer to its zero-valued T plus
// the slot index (needed by Release), or sacnerr.ErrNoMem if the pool is at
// capacity (the "CHECK_ROOM_FOR_ONE_MORE" check from spec §5, here made
// unconditional rather than a separate pre-check).
func (p *Static[T]) Acquire() (*T, int, error) {
	if len(p.free) == 0 {
		return nil, -1, fmt.Errorf("%w: pool at capacity (%d)", sacnerr.ErrNoMem, p.cap)
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true
	var zero T
	p.items[idx] = zero
	return &p.items[idx], idx, nil
}

// Release returns idx to the free list. Releasing an index that is not
// currently held, or that is out of range, is a no-op.
func (p *Static[T]) Release(idx int) {
	if idx < 0 || idx >= p.cap || !p.inUse[idx] {
		return
	}
	p.inUse[idx] = false
	var zero T
	p.items[idx] = zero
	p.free = append(p.free, idx)
}

// Get returns a pointer to the item at idx without acquiring it. Used by
// callers that store the index separately (e.g. a CID->index map) and
// need the backing value back.
func (p *Static[T]) Get(idx int) (*T, bool) {
	if idx < 0 || idx >= p.cap || !p.inUse[idx] {
		return nil, false
	}
	return &p.items[idx], true
}

// Len reports how many slots are currently held.
func (p *Static[T]) Len() int { return p.cap - len(p.free) }

// Cap reports the pool's fixed capacity.
func (p *Static[T]) Cap() int { return p.cap }
