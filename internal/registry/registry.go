// Package registry implements the global remote-source handle registry: the
// 1:1, refcounted mapping between a compact integer handle and a 128-bit
// CID, shared by every receiver and the source detector (spec §3, "Remote
// Source Handle").
package registry

import (
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/Tuhis/go-sacn/internal/pool"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Handle is a compact integer identifier bound 1:1 to a remote CID.
type Handle int32

// InvalidHandle is returned by lookups that find nothing, and used as the
// "no owner" sentinel in merger output buffers.
const InvalidHandle Handle = -1

const maxHandle Handle = 0xFFFE

type entry struct {
	cid     uuid.UUID
	handle  Handle
	refs    int
	poolIdx int // index into Registry.pool, or -1 in dynamic mode
}

// cidItem orders entries by CID for the CID->handle btree.
type cidItem struct{ e *entry }

func (a cidItem) Less(than btree.Item) bool {
	b := than.(cidItem)
	return lessUUID(a.e.cid, b.e.cid)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Registry is the process-wide CID<->handle table. It does no locking of
// its own: callers that share it between goroutines serialize access
// themselves.
//
// Invariants maintained: (a) a live CID has exactly one handle; (b)
// handle->CID and CID->handle lookups are O(log n); (c) handles are never
// reused while referenced.
type Registry struct {
	byHandle map[Handle]*entry
	byCID    *btree.BTree
	next     Handle
	entries  *pool.Static[entry] // non-nil in static mode: entries live in a bounded pool instead of being heap-allocated one at a time
}

// New creates an empty registry with no handle-count ceiling (dynamic
// memory mode, spec §5).
func New() *Registry {
	return &Registry{
		byHandle: make(map[Handle]*entry),
		byCID:    btree.New(32),
		next:     0,
	}
}

// NewStatic creates a registry whose live-handle count is bounded at
// capacity, backed by a pool.Static[entry] rather than per-call heap
// allocation (spec §5's static memory build mode). AddOrRef returns
// sacnerr.ErrNoMem once capacity is reached.
func NewStatic(capacity int) *Registry {
	return &Registry{
		byHandle: make(map[Handle]*entry, capacity),
		byCID:    btree.New(32),
		entries:  pool.NewStatic[entry](capacity),
	}
}

// AddOrRef returns the handle bound to cid, creating it if this is the
// first reference. Each call that returns successfully increments the
// entry's refcount by one; callers must call Release exactly once per
// successful AddOrRef/Ref call.
func (r *Registry) AddOrRef(cid uuid.UUID) (Handle, error) {
	if cid == uuid.Nil {
		return InvalidHandle, fmt.Errorf("%w: nil CID", sacnerr.ErrInvalid)
	}

	if item := r.byCID.Get(cidItem{&entry{cid: cid}}); item != nil {
		e := item.(cidItem).e
		e.refs++
		return e.handle, nil
	}

	h, err := r.allocHandle()
	if err != nil {
		return InvalidHandle, err
	}

	var e *entry
	poolIdx := -1
	if r.entries != nil {
		e, poolIdx, err = r.entries.Acquire()
		if err != nil {
			return InvalidHandle, err
		}
	} else {
		e = &entry{}
	}
	e.cid, e.handle, e.refs, e.poolIdx = cid, h, 1, poolIdx

	r.byHandle[h] = e
	r.byCID.ReplaceOrInsert(cidItem{e})
	return h, nil
}

// Ref increments the refcount of an already-registered handle. Returns
// sacnerr.ErrNotFound if the handle is not live.
func (r *Registry) Ref(h Handle) error {
	e, ok := r.byHandle[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", sacnerr.ErrNotFound, h)
	}
	e.refs++
	return nil
}

// Release decrements the refcount of h, freeing the handle for reuse once
// it reaches zero. Returns sacnerr.ErrNotFound if the handle is not live.
func (r *Registry) Release(h Handle) error {
	e, ok := r.byHandle[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", sacnerr.ErrNotFound, h)
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.byHandle, h)
		r.byCID.Delete(cidItem{e})
		if r.entries != nil {
			r.entries.Release(e.poolIdx)
		}
	}
	return nil
}

// CIDForHandle returns the CID bound to h. O(1) (map lookup), well within
// the O(log n) bound required by spec §3.
func (r *Registry) CIDForHandle(h Handle) (uuid.UUID, bool) {
	e, ok := r.byHandle[h]
	if !ok {
		return uuid.Nil, false
	}
	return e.cid, true
}

// HandleForCID returns the handle bound to cid, if any. O(log n) via the
// CID-ordered btree.
func (r *Registry) HandleForCID(cid uuid.UUID) (Handle, bool) {
	item := r.byCID.Get(cidItem{&entry{cid: cid}})
	if item == nil {
		return InvalidHandle, false
	}
	return item.(cidItem).e.handle, true
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	return len(r.byHandle)
}

// allocHandle finds the next unused handle value, wrapping around the
// valid range and skipping in-use handles so that handles are never reused
// while referenced.
func (r *Registry) allocHandle() (Handle, error) {
	start := r.next
	for {
		h := r.next
		r.next++
		if r.next > maxHandle {
			r.next = 0
		}
		if _, inUse := r.byHandle[h]; !inUse {
			return h, nil
		}
		if r.next == start {
			return InvalidHandle, fmt.Errorf("%w: all %d handles in use", sacnerr.ErrNoMem, maxHandle+1)
		}
	}
}
