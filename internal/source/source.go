package source

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/metrics"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// Sender is the subset of sacnnet.SendSockets the source engine needs;
// narrowed to an interface so tests can substitute a fake.
type Sender interface {
	SendMulticast(universe uint16, ipSupport sacn.IPSupport, buf []byte, ifIndex int) error
	SendUnicast(buf []byte, dest *net.UDPAddr) error
	IfIndexes() []int
}

// Source is one outgoing sACN source: a CID, a name, and a set of
// universes each with independent send buffers, suppression state, and
// termination sequencing (spec §4.4).
type Source struct {
	cfg     sacn.SourceConfig
	sockets Sender
	log     zerolog.Logger

	universes map[uint16]*universe

	terminating bool // whole-source shutdown requested

	discoveryTimer time.Time

	metrics *metrics.Metrics
}

// SetMetrics attaches a Prometheus reporter; a nil m (the default) disables
// instrumentation.
func (s *Source) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// New creates a Source. sockets is used for every multicast/unicast send.
func New(cfg sacn.SourceConfig, sockets Sender, log zerolog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		cfg:       cfg,
		sockets:   sockets,
		log:       log.With().Str("component", "source").Str("name", cfg.Name).Logger(),
		universes: make(map[uint16]*universe),
	}, nil
}

// AddUniverse registers a new outgoing universe.
func (s *Source) AddUniverse(cfg sacn.UniverseConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, exists := s.universes[cfg.Universe]; exists {
		return fmt.Errorf("%w: universe %d already added to this source", sacnerr.ErrExists, cfg.Universe)
	}
	if s.cfg.UniverseCountMax > 0 && len(s.universes) >= s.cfg.UniverseCountMax {
		return fmt.Errorf("%w: universe count max %d reached", sacnerr.ErrNoMem, s.cfg.UniverseCountMax)
	}
	u, err := newUniverse(cfg, s.cfg.Name)
	if err != nil {
		return err
	}
	s.universes[cfg.Universe] = u
	return nil
}

// RemoveUniverse begins termination of a universe. withoutRemoving selects
// "Terminate-without-removing" (state survives, can be reused after
// termination finishes); otherwise the universe is deleted once
// termination completes.
func (s *Source) RemoveUniverse(univ uint16, withoutRemoving bool) error {
	u, ok := s.universes[univ]
	if !ok {
		return fmt.Errorf("%w: universe %d not present on this source", sacnerr.ErrNotFound, univ)
	}
	if withoutRemoving {
		u.termState = terminatingWithoutRemoving
	} else {
		u.termState = terminatingAndRemoving
	}
	return nil
}

// UpdateLevels replaces a universe's level payload. Slots beyond len(levels)
// revert to zero. PAP is applied before levels are published to the send
// buffer (spec §4.4 "PAP must be updated before levels").
func (s *Source) UpdateLevels(univ uint16, levels []byte) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	if len(levels) > sacn.MaxSlots {
		return fmt.Errorf("%w: %d level slots exceeds max %d", sacnerr.ErrInvalid, len(levels), sacn.MaxSlots)
	}
	if u.termState == terminatingWithoutRemoving {
		// A fresh update cancels a pending terminate-without-removing
		// (spec §4.4).
		u.termState = notTerminating
	}
	var buf [sacn.MaxSlots]byte
	copy(buf[:], levels)
	u.levels = buf
	u.levelCount = len(levels)
	u.hasLevelData = true
	u.recomputeEffectiveLevels()
	u.levelSuppress.reset()
	return nil
}

// UpdatePAP replaces a universe's per-address-priority payload and marks it
// PAP-valid.
func (s *Source) UpdatePAP(univ uint16, pap []byte) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	if len(pap) > sacn.MaxSlots {
		return fmt.Errorf("%w: %d PAP slots exceeds max %d", sacnerr.ErrInvalid, len(pap), sacn.MaxSlots)
	}
	var buf [sacn.MaxSlots]byte
	copy(buf[:], pap)
	u.pap = buf
	u.papCount = len(pap)
	u.papValid = true
	u.hasPAPData = true
	u.recomputeEffectiveLevels()
	u.papSuppress.reset()
	return nil
}

// RemovePAP clears a universe's PAP-valid flag; subsequent sends stop
// carrying a PAP stream and effective levels revert to the raw level
// buffer.
func (s *Source) RemovePAP(univ uint16) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	u.papValid = false
	u.hasPAPData = false
	u.recomputeEffectiveLevels()
	return nil
}

// UpdatePriority changes a universe's DMX priority and resets transmission
// suppression (spec §4.4: priority change resets suppression).
func (s *Source) UpdatePriority(univ uint16, priority uint8) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	if err := sacn.ValidatePriority(priority); err != nil {
		return err
	}
	u.priority = priority
	u.levelSuppress.reset()
	return nil
}

// AddUnicastDest adds a unicast destination to a universe and resets
// transmission suppression.
func (s *Source) AddUnicastDest(univ uint16, addr string) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	cfg := sacn.UniverseConfig{Universe: univ, UnicastDests: []sacn.UnicastDestConfig{{Addr: addr}}}
	tmp, err := newUniverse(cfg, s.cfg.Name)
	if err != nil {
		return err
	}
	u.unicastDests = append(u.unicastDests, tmp.unicastDests...)
	u.levelSuppress.reset()
	u.papSuppress.reset()
	return nil
}

// RemoveUnicastDest begins termination of one unicast destination without
// affecting the rest of the universe.
func (s *Source) RemoveUnicastDest(univ uint16, addr string) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	for _, d := range u.unicastDests {
		if d.addr.IP.String() == addr {
			d.terminating = true
			return nil
		}
	}
	return fmt.Errorf("%w: unicast destination %s not found on universe %d", sacnerr.ErrNotFound, addr, univ)
}

// Terminate requests whole-source shutdown: every universe cascades into
// termination so its termination packets can finish transmitting before
// the source is discarded (spec §4.4 step 1).
func (s *Source) Terminate() {
	s.terminating = true
}

// Done reports whether every universe has finished terminating and the
// source may be safely discarded.
func (s *Source) Done() bool {
	return s.terminating && len(s.universes) == 0
}

func (s *Source) mustUniverse(univ uint16) (*universe, error) {
	u, ok := s.universes[univ]
	if !ok {
		return nil, fmt.Errorf("%w: universe %d not present on this source", sacnerr.ErrNotFound, univ)
	}
	return u, nil
}

// sortedUniverseIDs returns universe numbers in ascending order, for
// deterministic discovery-page construction and predictable test output.
func (s *Source) sortedUniverseIDs() []uint16 {
	ids := make([]uint16, 0, len(s.universes))
	for id := range s.universes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
