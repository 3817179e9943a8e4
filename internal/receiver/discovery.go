package receiver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// DiscoveredSource is one source seen via the universe-discovery protocol:
// the supplemented source-detector feature (universe discovery was parsed
// from the wire but never surfaced to the application in the distilled
// packet-ingest pipeline above).
type DiscoveredSource struct {
	CID        uuid.UUID
	Name       string
	Universes  []uint16
	LastUpdate time.Time
}

// DetectorNotifier receives source-detector callbacks.
type DetectorNotifier interface {
	SourceUpdated(src DiscoveredSource)
	SourceExpired(cid uuid.UUID)
}

type pendingPages struct {
	name      string
	lastPage  int
	received  map[int][]uint16
}

// Detector reassembles paged universe-discovery packets into a per-source
// universe list (spec §4.4 "Universe discovery", consumed on the receive
// side). A source is expired by ExpireStale once it has sent no discovery
// packet for longer than the timeout passed to that call.
type Detector struct {
	mu       sync.Mutex
	notifier DetectorNotifier

	sources map[uuid.UUID]*DiscoveredSource
	pending map[uuid.UUID]*pendingPages
}

// NewDetector creates an empty source detector.
func NewDetector(notifier DetectorNotifier) *Detector {
	return &Detector{
		notifier: notifier,
		sources:  make(map[uuid.UUID]*DiscoveredSource),
		pending:  make(map[uuid.UUID]*pendingPages),
	}
}

// HandleDiscoveryPacket feeds one parsed universe-discovery page. When the
// last page of a source's current send arrives, the reassembled universe
// list is published via SourceUpdated.
func (d *Detector) HandleDiscoveryPacket(pkt *sacn.DiscoveryPacket, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	page, lastPage := int(pkt.Page), int(pkt.LastPage)

	p, ok := d.pending[pkt.CID]
	if !ok || p.lastPage != lastPage {
		p = &pendingPages{name: pkt.SourceName, lastPage: lastPage, received: make(map[int][]uint16)}
		d.pending[pkt.CID] = p
	}
	p.received[page] = pkt.Universes

	if len(p.received) <= lastPage {
		return
	}
	for i := 0; i <= lastPage; i++ {
		if _, ok := p.received[i]; !ok {
			return
		}
	}

	var universes []uint16
	for i := 0; i <= lastPage; i++ {
		universes = append(universes, p.received[i]...)
	}
	delete(d.pending, pkt.CID)

	src := &DiscoveredSource{CID: pkt.CID, Name: p.name, Universes: universes, LastUpdate: now}
	d.sources[pkt.CID] = src
	if d.notifier != nil {
		d.notifier.SourceUpdated(*src)
	}
}

// ExpireStale removes and reports sources that haven't completed a
// discovery page set within timeout.
func (d *Detector) ExpireStale(now time.Time, timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for cid, src := range d.sources {
		if now.Sub(src.LastUpdate) > timeout {
			delete(d.sources, cid)
			if d.notifier != nil {
				d.notifier.SourceExpired(cid)
			}
		}
	}
}

// Sources returns a snapshot of every currently known discovered source.
func (d *Detector) Sources() []DiscoveredSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DiscoveredSource, 0, len(d.sources))
	for _, s := range d.sources {
		out = append(out, *s)
	}
	return out
}
