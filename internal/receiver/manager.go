package receiver

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Manager owns every active Receiver, keyed by universe, plus the shared
// CID<->handle registry they all resolve sources through. It is the entry
// point a receive thread dispatches decoded packets into (spec §4.2
// "thread assignment").
type Manager struct {
	mu       sync.Mutex
	reg      *registry.Registry
	log      zerolog.Logger
	byUni    map[uint16]*Receiver
	detector *Detector
}

// NewManager creates an empty receiver manager sharing one registry across
// every universe it will host. detector may be nil to disable universe
// discovery handling.
func NewManager(reg *registry.Registry, detector *Detector, log zerolog.Logger) *Manager {
	return &Manager{
		reg:      reg,
		log:      log.With().Str("component", "receiver.manager").Logger(),
		byUni:    make(map[uint16]*Receiver),
		detector: detector,
	}
}

// CreateReceiver registers a new receiver for cfg.Universe, entering its
// initial sampling period over netints. Returns sacnerr.ErrExists if the
// universe is already hosted.
func (m *Manager) CreateReceiver(cfg sacn.ReceiverConfig, notifier Notifier, usePAP bool, netints []int, now time.Time) (*Receiver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, exists := m.byUni[cfg.Universe]; exists {
		return nil, fmt.Errorf("%w: universe %d already has a receiver", sacnerr.ErrExists, cfg.Universe)
	}

	r := New(cfg, m.reg, notifier, usePAP, m.log)
	r.AddNetints(netints, now)
	m.byUni[cfg.Universe] = r
	return r, nil
}

// RemoveReceiver releases every tracked source's registry reference and
// stops hosting universe.
func (m *Manager) RemoveReceiver(universe uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byUni[universe]
	if !ok {
		return
	}
	for h := range r.sources {
		r.removeSource(h)
	}
	delete(m.byUni, universe)
}

// Dispatch decodes a root-layer vector sniff and routes a raw datagram to
// the matching receiver (spec §4.2 packet-ingest pipeline steps 1-3). Data
// packets destined for universes this manager does not host are dropped.
func (m *Manager) Dispatch(raw []byte, arrivalNif int, now time.Time) {
	vector, err := sacn.RootVector(raw)
	if err != nil {
		m.log.Debug().Err(err).Msg("dropping malformed packet: bad root layer")
		return
	}

	switch vector {
	case sacn.RootVectorData:
		pkt, err := sacn.ParseDataPacket(raw)
		if err != nil {
			m.log.Debug().Err(err).Msg("dropping malformed data packet")
			return
		}
		m.mu.Lock()
		r, ok := m.byUni[pkt.Universe]
		m.mu.Unlock()
		if !ok {
			return
		}
		r.HandleDataPacket(pkt, arrivalNif, now)
	case sacn.RootVectorExtended:
		if m.detector == nil {
			return
		}
		pkt, err := sacn.ParseDiscoveryPacket(raw)
		if err != nil {
			m.log.Debug().Err(err).Msg("dropping malformed discovery packet")
			return
		}
		m.detector.HandleDiscoveryPacket(pkt, now)
	default:
		m.log.Debug().Uint32("vector", vector).Msg("dropping packet with unrecognized root vector")
	}
}

// Tick runs the periodic pass (spec §4.2 "Periodic processing") over every
// hosted receiver. Called once per sacn.PeriodicInterval by the owning
// receive thread.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	receivers := make([]*Receiver, 0, len(m.byUni))
	for _, r := range m.byUni {
		receivers = append(receivers, r)
	}
	m.mu.Unlock()

	for _, r := range receivers {
		r.Process(now)
	}
}

// Receiver returns the hosted receiver for universe, if any.
func (m *Manager) Receiver(universe uint16) (*Receiver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byUni[universe]
	return r, ok
}
