// Package universe holds the monitor demo's view of merged universe state:
// the per-slot level/owner snapshot a mergereceiver.MergeReceiver produces,
// kept around so the TUI can render it on its own redraw tick instead of
// reacting to every MergedData callback (adapted from the teacher's single-
// source Universe/Channel model to the multi-source merged output the new
// engines produce).
package universe

import (
	"sync"
	"time"

	"github.com/Tuhis/go-sacn/internal/registry"
)

// Slot is one merged DMX address: the winning level and the handle of the
// source that owns it, or registry.InvalidHandle if no source currently
// contributes there.
type Slot struct {
	Level uint8
	Owner registry.Handle
}

// Active reports whether any source currently owns this slot.
func (s Slot) Active() bool { return s.Owner != registry.InvalidHandle }

// Universe is the monitor's snapshot of one merged universe: the last
// MergedData delivered by its mergereceiver.MergeReceiver.
type Universe struct {
	ID            uint16
	Slots         [512]Slot
	ActiveSources int
	LastMerge     time.Time
	mu            sync.RWMutex
}

// NewUniverse creates an empty universe snapshot.
func NewUniverse(id uint16) *Universe {
	u := &Universe{ID: id}
	for i := range u.Slots {
		u.Slots[i].Owner = registry.InvalidHandle
	}
	return u
}

// ApplyMerge overwrites the snapshot from a fresh merge recompute.
func (u *Universe) ApplyMerge(levels *[512]uint8, owners *[512]registry.Handle, activeSources int, at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := 0; i < 512; i++ {
		u.Slots[i].Level = levels[i]
		u.Slots[i].Owner = owners[i]
	}
	u.ActiveSources = activeSources
	u.LastMerge = at
}

// Info is a point-in-time copy of the fields the TUI reads as a unit.
type Info struct {
	ActiveSources int
	LastMerge     time.Time
}

// GetInfo returns a copy of the universe's summary fields.
func (u *Universe) GetInfo() Info {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return Info{ActiveSources: u.ActiveSources, LastMerge: u.LastMerge}
}

// GetAllSlots returns a copy of the 512-slot merged snapshot.
func (u *Universe) GetAllSlots() [512]Slot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.Slots
}

// ActiveSlotCount returns how many of the 512 slots currently have an
// owning source.
func (u *Universe) ActiveSlotCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	n := 0
	for _, s := range u.Slots {
		if s.Active() {
			n++
		}
	}
	return n
}
