package mergereceiver

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/receiver"
	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Manager hosts many per-universe MergeReceivers, each backed by its own
// Receiver inside a shared receiver.Manager (spec §4.6: "an sACN merge
// receiver can listen on one universe at a time, and each universe can
// only be listened to by one merge receiver at a time").
type Manager struct {
	mu      sync.Mutex
	recvMgr *receiver.Manager
	byUni   map[uint16]*MergeReceiver
	log     zerolog.Logger
}

// NewManager creates an empty merge-receiver manager. recvMgr supplies the
// shared registry and per-universe dispatch the Receiver Engine needs;
// the returned Manager's Dispatch/Tick forward to recvMgr unchanged, so
// driving recvMgr directly is equivalent.
func NewManager(recvMgr *receiver.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		recvMgr: recvMgr,
		byUni:   make(map[uint16]*MergeReceiver),
		log:     log.With().Str("component", "mergereceiver.manager").Logger(),
	}
}

// CreateMergeReceiver creates a receiver and merger pair for cfg.Universe
// and begins its sampling period over netints.
func (m *Manager) CreateMergeReceiver(cfg sacn.ReceiverConfig, usePAP bool, sourceCountMax int, notifier Notifier, netints []int, now time.Time) (*MergeReceiver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUni[cfg.Universe]; exists {
		return nil, fmt.Errorf("%w: universe %d already has a merge receiver", sacnerr.ErrExists, cfg.Universe)
	}

	// The original implementation sizes a merge receiver's source limit to
	// the smaller of the merger's and receiver's configured maximums; here
	// both are driven from the same caller-supplied value, so they always
	// agree.
	cfg.SourceCountMax = sourceCountMax
	mergerCfg := sacn.MergerConfig{SourceCountMax: sourceCountMax}

	mr := New(cfg.Universe, usePAP, mergerCfg, notifier, m.log)
	if _, err := m.recvMgr.CreateReceiver(cfg, mr, usePAP, netints, now); err != nil {
		return nil, err
	}
	m.byUni[cfg.Universe] = mr
	return mr, nil
}

// RemoveMergeReceiver tears down both the receiver and merger for universe.
func (m *Manager) RemoveMergeReceiver(universe uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUni[universe]; !ok {
		return
	}
	m.recvMgr.RemoveReceiver(universe)
	delete(m.byUni, universe)
}

// Dispatch forwards to the underlying receiver.Manager; data packets for a
// merge-receiver universe are merged before the application ever sees them.
func (m *Manager) Dispatch(raw []byte, arrivalNif int, now time.Time) {
	m.recvMgr.Dispatch(raw, arrivalNif, now)
}

// Tick runs periodic housekeeping on every hosted receiver.
func (m *Manager) Tick(now time.Time) {
	m.recvMgr.Tick(now)
}

// MergeReceiver returns the hosted façade for universe, if any.
func (m *Manager) MergeReceiver(universe uint16) (*MergeReceiver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.byUni[universe]
	return mr, ok
}

// Levels returns the merged level buffer for universe, or nil if no merge
// receiver is hosting it.
func (m *Manager) Levels(universe uint16) *[sacn.MaxSlots]uint8 {
	mr, ok := m.MergeReceiver(universe)
	if !ok {
		return nil
	}
	return mr.Levels()
}

// Owners returns the per-slot owner buffer for universe, or nil.
func (m *Manager) Owners(universe uint16) *[sacn.MaxSlots]registry.Handle {
	mr, ok := m.MergeReceiver(universe)
	if !ok {
		return nil
	}
	return mr.Owners()
}
