// Package sourceloss implements the source-loss debounce algorithm (spec
// §4.3): sources that go offline are batched into termination sets sharing
// one expiration deadline, so a brief, simultaneous loss of many sources
// produces one notification instead of one per source, and a source that
// bounces back online before its deadline never fires a loss notification.
package sourceloss

import (
	"time"

	"github.com/Tuhis/go-sacn/internal/registry"
)

// LostSource is one member of a termination set's output, annotated with
// whether the loss was an explicit stream-terminated packet (true) or a
// plain timeout (false).
type LostSource struct {
	Handle     registry.Handle
	Terminated bool
}

// termSet is a group of sources sharing one expire deadline.
type termSet struct {
	expireAt time.Time
	// terminated records, per member, whether it was added because of an
	// explicit stream-terminated packet rather than a timeout.
	terminated map[registry.Handle]bool
}

// Tracker owns the active termination sets for one receiver.
type Tracker struct {
	sets []*termSet
	// unknown holds sources seen as "unknown" (no new DMX since last tick,
	// but packet_timer not yet expired) purely so MarkOffline can tell
	// whether a previously-unknown source has now gone fully offline; it
	// does not itself produce notifications.
	unknown map[registry.Handle]bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{unknown: make(map[registry.Handle]bool)}
}

// MarkOffline ensures each offline source is a member of some termination
// set, creating a new one (dated now+expiredWait) if it isn't already in
// one. unknownNow additionally records sources that are not yet confirmed
// offline, so a later offline transition doesn't restart its clock if it
// was already being tracked.
//
// terminated reports, for each handle in offline, whether the loss is an
// explicit stream termination (true) or a timeout (false).
func (t *Tracker) MarkOffline(offline []registry.Handle, terminated map[registry.Handle]bool, unknownNow []registry.Handle, now time.Time, expiredWait time.Duration) {
	for _, h := range offline {
		delete(t.unknown, h)
		if t.findSet(h) != nil {
			continue
		}
		s := t.newestCompatibleSet(now)
		if s == nil {
			s = &termSet{expireAt: now.Add(expiredWait), terminated: make(map[registry.Handle]bool)}
			t.sets = append(t.sets, s)
		}
		s.terminated[h] = terminated[h]
	}
	for _, h := range unknownNow {
		if t.findSet(h) == nil {
			t.unknown[h] = true
		}
	}
}

// MarkOnline removes every source in online from any termination set (and
// from the unknown set); sets left with no members are freed. A source
// that returns online before its set expires therefore never appears in
// GetExpired.
func (t *Tracker) MarkOnline(online []registry.Handle) {
	for _, h := range online {
		delete(t.unknown, h)
		for _, s := range t.sets {
			delete(s.terminated, h)
		}
	}
	t.pruneEmpty()
}

// GetExpired collects and removes every set whose deadline has passed,
// returning their members. Once a source appears in this output it is
// removed from all sets (property (a) in spec §4.3).
func (t *Tracker) GetExpired(now time.Time) []LostSource {
	var lost []LostSource
	kept := t.sets[:0]
	for _, s := range t.sets {
		if !now.Before(s.expireAt) {
			for h, term := range s.terminated {
				lost = append(lost, LostSource{Handle: h, Terminated: term})
			}
			continue
		}
		kept = append(kept, s)
	}
	t.sets = kept
	return lost
}

// findSet returns the termination set containing h, if any.
func (t *Tracker) findSet(h registry.Handle) *termSet {
	for _, s := range t.sets {
		if _, ok := s.terminated[h]; ok {
			return s
		}
	}
	return nil
}

// newestCompatibleSet returns a not-yet-expired set that a newly-offline
// source can merge into, implementing the implicit-merge property (c) in
// spec §4.3: sources that go offline nearly together share one deadline.
// We merge into whichever live set expires soonest, so a straggler joins
// the batch that is already furthest along rather than starting a fresh
// full-length wait.
func (t *Tracker) newestCompatibleSet(now time.Time) *termSet {
	var best *termSet
	for _, s := range t.sets {
		if s.expireAt.Before(now) {
			continue
		}
		if best == nil || s.expireAt.Before(best.expireAt) {
			best = s
		}
	}
	return best
}

func (t *Tracker) pruneEmpty() {
	kept := t.sets[:0]
	for _, s := range t.sets {
		if len(s.terminated) > 0 {
			kept = append(kept, s)
		}
	}
	t.sets = kept
}

// NumPending reports how many termination sets are currently active, for
// diagnostics/tests.
func (t *Tracker) NumPending() int {
	return len(t.sets)
}
