// Package merge implements the DMX Merger (spec §4.5): highest-takes-
// precedence merging across sources with per-address priority (PAP)
// override and per-slot ownership tracking.
package merge

import (
	"fmt"

	"github.com/Tuhis/go-sacn/internal/metrics"
	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Source is the merge state kept per registered source.
type Source struct {
	Handle registry.Handle

	levels    [sacn.MaxSlots]uint8
	levelCnt  int
	pap       [sacn.MaxSlots]uint8
	papCnt    int
	papValid  bool

	universePriority            uint8
	universePriorityUninitialized bool
}

// Merger computes, for each of 512 slots, the winning source's level and
// that source's effective priority, with HTP tiebreaking at equal
// priority. Output buffers are fixed 512-element arrays, owned either by
// the caller (via MergerConfig) or, if the caller passed nil, internally
// by the Merger itself; the Merger never allocates per-tick memory.
type Merger struct {
	levels *[sacn.MaxSlots]uint8
	owners *[sacn.MaxSlots]registry.Handle

	internalLevels [sacn.MaxSlots]uint8
	internalOwners [sacn.MaxSlots]registry.Handle

	sourceCountMax int
	sources        map[registry.Handle]*Source

	metrics *metrics.Metrics
}

// SetMetrics attaches a Prometheus reporter; a nil m (the default) disables
// instrumentation.
func (m *Merger) SetMetrics(metr *metrics.Metrics) { m.metrics = metr }

// New creates a Merger. If cfg.Levels/cfg.Owners are nil, internal
// fallback buffers are used.
func New(cfg sacn.MergerConfig) *Merger {
	m := &Merger{
		sourceCountMax: cfg.SourceCountMax,
		sources:        make(map[registry.Handle]*Source),
	}

	if cfg.Levels != nil {
		m.levels = cfg.Levels
	} else {
		m.levels = &m.internalLevels
	}

	if cfg.Owners != nil {
		m.owners = cfg.Owners
	} else {
		m.owners = &m.internalOwners
	}
	for i := range m.owners {
		m.owners[i] = registry.InvalidHandle
	}

	return m
}

// Levels returns the current merged level buffer.
func (m *Merger) Levels() *[sacn.MaxSlots]uint8 { return m.levels }

// Owners returns the current per-slot owning source handle buffer;
// registry.InvalidHandle means no source is valid for that slot.
func (m *Merger) Owners() *[sacn.MaxSlots]registry.Handle { return m.owners }

// AddSource registers a new source with the merger.
func (m *Merger) AddSource(h registry.Handle) error {
	if _, exists := m.sources[h]; exists {
		return fmt.Errorf("%w: source %d already registered", sacnerr.ErrExists, h)
	}
	if m.sourceCountMax > 0 && len(m.sources) >= m.sourceCountMax {
		return fmt.Errorf("%w: merger source limit %d reached", sacnerr.ErrNoMem, m.sourceCountMax)
	}
	m.sources[h] = &Source{Handle: h, universePriorityUninitialized: true}
	return nil
}

// RemoveSource deletes a source and recomputes every slot it had owned.
func (m *Merger) RemoveSource(h registry.Handle) error {
	if _, ok := m.sources[h]; !ok {
		return fmt.Errorf("%w: source %d", sacnerr.ErrNotFound, h)
	}
	delete(m.sources, h)
	m.recomputeAll()
	return nil
}

// UpdateLevels replaces a source's level buffer; slots beyond len(levels)
// become zero. Recomputes the affected slots.
func (m *Merger) UpdateLevels(h registry.Handle, levels []byte) error {
	s, ok := m.sources[h]
	if !ok {
		return fmt.Errorf("%w: source %d", sacnerr.ErrNotFound, h)
	}
	if len(levels) > sacn.MaxSlots {
		return fmt.Errorf("%w: %d levels exceeds max %d", sacnerr.ErrInvalid, len(levels), sacn.MaxSlots)
	}

	for i := range s.levels {
		if i < len(levels) {
			s.levels[i] = levels[i]
		} else {
			s.levels[i] = 0
		}
	}
	s.levelCnt = len(levels)

	m.recomputeAll()
	return nil
}

// UpdatePAP replaces a source's per-address-priority buffer and marks it
// PAP-valid. Recomputes affected slots.
func (m *Merger) UpdatePAP(h registry.Handle, pap []byte) error {
	s, ok := m.sources[h]
	if !ok {
		return fmt.Errorf("%w: source %d", sacnerr.ErrNotFound, h)
	}
	if len(pap) > sacn.MaxSlots {
		return fmt.Errorf("%w: %d PAP values exceeds max %d", sacnerr.ErrInvalid, len(pap), sacn.MaxSlots)
	}

	for i := range s.pap {
		if i < len(pap) {
			s.pap[i] = pap[i]
		} else {
			s.pap[i] = 0
		}
	}
	s.papCnt = len(pap)
	s.papValid = true

	m.recomputeAll()
	return nil
}

// RemovePAP clears a source's PAP-valid flag; it reverts to using its
// universe priority for every slot.
func (m *Merger) RemovePAP(h registry.Handle) error {
	s, ok := m.sources[h]
	if !ok {
		return fmt.Errorf("%w: source %d", sacnerr.ErrNotFound, h)
	}
	s.papValid = false
	m.recomputeAll()
	return nil
}

// UpdateUniversePriority sets a source's universe (framing-layer)
// priority and clears its "uninitialized" flag.
func (m *Merger) UpdateUniversePriority(h registry.Handle, priority uint8) error {
	s, ok := m.sources[h]
	if !ok {
		return fmt.Errorf("%w: source %d", sacnerr.ErrNotFound, h)
	}
	s.universePriority = priority
	s.universePriorityUninitialized = false
	m.recomputeAll()
	return nil
}

// effectivePriority returns the priority this source contributes at slot
// i, and whether it participates there at all. A PAP value of 0 at a slot
// means "this source does not participate at this slot" (spec §4.5).
func effectivePriority(s *Source, i int) (prio uint8, participates bool) {
	if s.papValid && i < s.papCnt {
		if s.pap[i] == 0 {
			return 0, false
		}
		return s.pap[i], true
	}
	if s.universePriorityUninitialized {
		return 0, false
	}
	return s.universePriority, true
}

// recomputeAll recomputes every slot. The merger is sized for whole-
// universe updates (at most 512 sources x 512 slots), so a full O(slots ×
// sources) pass on every update keeps the implementation simple and
// allocation-free; callers that need finer-grained incremental updates
// can be layered on top without changing this contract.
func (m *Merger) recomputeAll() {
	for i := 0; i < sacn.MaxSlots; i++ {
		m.recomputeSlot(i)
	}
	m.metrics.MergeRecomputed()
}

func (m *Merger) recomputeSlot(i int) {
	currentOwner := m.owners[i]
	var winner *Source
	var winnerPrio uint8

	for _, s := range m.sources {
		if i >= s.levelCnt {
			continue // no level data at this slot
		}
		prio, participates := effectivePriority(s, i)
		if !participates {
			continue
		}

		switch {
		case winner == nil:
			winner, winnerPrio = s, prio
		case prio > winnerPrio:
			winner, winnerPrio = s, prio
		case prio == winnerPrio && s.levels[i] > winner.levels[i]:
			winner = s
		case prio == winnerPrio && s.levels[i] == winner.levels[i]:
			winner = tiebreakOwner(winner, s, currentOwner)
		}
	}

	if winner == nil {
		m.levels[i] = 0
		m.owners[i] = registry.InvalidHandle
		return
	}
	m.levels[i] = winner.levels[i]
	m.owners[i] = winner.Handle
}

// tiebreakOwner resolves a full tie (equal priority and level) between two
// candidate sources. Map iteration order is not stable across recomputes,
// so without this the slot's reported owner could flap between equally-
// valid winners on every call. The incumbent owner wins if it is one of
// the tied candidates; otherwise the lower handle wins, which is at least
// stable run to run.
func tiebreakOwner(a, b *Source, currentOwner registry.Handle) *Source {
	if b.Handle == currentOwner {
		return b
	}
	if a.Handle == currentOwner {
		return a
	}
	if b.Handle < a.Handle {
		return b
	}
	return a
}

// NumSources reports how many sources are currently registered.
func (m *Merger) NumSources() int { return len(m.sources) }
