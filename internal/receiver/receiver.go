package receiver

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/metrics"
	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sourceloss"
)

// Receiver is the per-universe tracked-source table and sampling-period
// state machine (spec §4.2). Callers serialize access externally (the
// shared sACN lock, spec §5); Receiver itself does no locking.
type Receiver struct {
	cfg      sacn.ReceiverConfig
	reg      *registry.Registry
	notifier Notifier
	log      zerolog.Logger
	usePAP   bool

	sources map[registry.Handle]*trackedSource
	loss    *sourceloss.Tracker
	metrics *metrics.Metrics

	sampling                bool
	samplingDeadline        time.Time
	notifiedSamplingStarted bool
	currentNetints          map[int]bool
	futureNetints           map[int]bool

	suppressLimitExceeded bool
}

// New creates a Receiver bound to the given universe configuration and
// registered against reg for CID<->handle resolution.
func New(cfg sacn.ReceiverConfig, reg *registry.Registry, notifier Notifier, usePAP bool, log zerolog.Logger) *Receiver {
	return &Receiver{
		cfg:            cfg,
		reg:            reg,
		notifier:       notifier,
		log:            log.With().Uint16("universe", cfg.Universe).Logger(),
		usePAP:         usePAP,
		sources:        make(map[registry.Handle]*trackedSource),
		loss:           sourceloss.New(),
		currentNetints: make(map[int]bool),
		futureNetints:  make(map[int]bool),
	}
}

// Universe returns the universe this receiver is bound to.
func (r *Receiver) Universe() uint16 { return r.cfg.Universe }

// SetMetrics attaches a Prometheus reporter; a nil m (the default) disables
// instrumentation with no behavioral change.
func (r *Receiver) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// AddNetints registers additional arrival interfaces. If the receiver is
// not currently sampling, a new sampling period begins immediately over the
// union of existing and new interfaces. If it is already sampling, the new
// interfaces are deferred as "future" until the current period expires
// (spec §4.2 "Sampling period").
func (r *Receiver) AddNetints(netints []int, now time.Time) {
	if !r.sampling {
		for _, ni := range netints {
			r.currentNetints[ni] = true
		}
		r.beginSampling(now)
		return
	}
	for _, ni := range netints {
		if !r.currentNetints[ni] {
			r.futureNetints[ni] = true
		}
	}
}

// RemoveNetint drops an interface entirely (e.g. it went down).
func (r *Receiver) RemoveNetint(ifIndex int) {
	delete(r.currentNetints, ifIndex)
	delete(r.futureNetints, ifIndex)
}

func (r *Receiver) beginSampling(now time.Time) {
	r.sampling = true
	r.samplingDeadline = now.Add(sacn.SampleTime)
	r.notifiedSamplingStarted = false
}

// isFutureNetint reports whether ifIndex is queued to join a later
// sampling period, in which case packets arriving on it must be dropped
// (spec §4.2 step 3, "If arrival netint is in a future sampling period").
func (r *Receiver) isFutureNetint(ifIndex int) bool {
	return r.futureNetints[ifIndex]
}

// isSamplingOn reports whether the receiver is in an active sampling
// period that covers ifIndex.
func (r *Receiver) isSamplingOn(ifIndex int) bool {
	return r.sampling && r.currentNetints[ifIndex]
}

// IncomingPacket is one decoded sACN data packet delivered by the network
// layer, plus the interface it arrived on.
type IncomingPacket struct {
	Packet     *sacn.DataPacket
	ArrivalNif int
}

// HandleDataPacket runs the packet-ingest pipeline (spec §4.2 steps 3-5)
// for one already-parsed data packet addressed to this receiver's universe.
func (r *Receiver) HandleDataPacket(pkt *sacn.DataPacket, arrivalNif int, now time.Time) {
	if r.isFutureNetint(arrivalNif) {
		return
	}

	h, existed := r.lookupHandle(pkt.CID)

	var src *trackedSource
	if existed {
		src = r.sources[h]
		if src.netint != arrivalNif {
			if r.isSamplingOn(arrivalNif) || r.sampling {
				src.netint = arrivalNif
			} else {
				return
			}
		}
	}

	if existed && src.terminated {
		return
	}

	if pkt.Terminated {
		if !existed {
			return
		}
		src.terminated = true
		src.packetTimer = now
		return
	}

	if !existed {
		if h == registry.InvalidHandle {
			r.log.Warn().Msg("failed to resolve source CID")
			return
		}
		if r.cfg.SourceCountMax > 0 && len(r.sources) >= r.cfg.SourceCountMax {
			if !r.suppressLimitExceeded {
				r.suppressLimitExceeded = true
				r.notifier.SourceLimitExceeded(r.cfg.Universe)
				r.log.Warn().Msg("source limit exceeded, dropping new source")
			}
			_ = r.reg.Release(h)
			return
		}
		src = newTrackedSource(h, pkt.CID, r.usePAP, pkt.StartCode, now)
		src.netint = arrivalNif
		r.sources[h] = src
	}

	if !src.acceptSequence(pkt.Sequence) {
		r.metrics.PacketDropped(r.cfg.Universe, "out_of_order")
		return
	}
	src.packetTimer = now.Add(sacn.SourceLossTimeout)
	src.dmxSinceLastTick = true
	src.priority = pkt.Priority
	r.metrics.PacketReceived(r.cfg.Universe, pkt.StartCode)
	r.metrics.SetSourcesTracked(r.cfg.Universe, len(r.sources))

	isSampling := r.isSamplingOn(arrivalNif)

	var ev papEvent
	switch pkt.StartCode {
	case sacn.StartCodeDMX:
		ev = src.onDMX(isSampling, now)
	case sacn.StartCodePAP:
		if !r.usePAP {
			return
		}
		ev = src.onPAP(now)
	default:
		// Unknown start codes still update liveness but generate no
		// universe_data notification (spec covers DMX and PAP only).
		return
	}

	if ev.papLost {
		r.notifier.SourcePAPLost(r.cfg.Universe, h)
	}
	if r.cfg.Flags.FilterPreviewData && pkt.Preview {
		return
	}

	data := UniverseData{
		Universe:   r.cfg.Universe,
		Source:     h,
		Priority:   pkt.Priority,
		Preview:    pkt.Preview,
		StartCode:  pkt.StartCode,
		Slots:      pkt.Slots,
		IsSampling: isSampling,
	}

	if ev.suppressed {
		src.pendingData = &data
		return
	}
	if !ev.notify {
		return
	}
	r.notifier.UniverseData(data)
}

// lookupHandle resolves cid to a handle, taking exactly one registry
// reference on behalf of this receiver if it does not already hold one:
// existed is true iff this receiver already has a trackedSource for h (no
// new reference taken). A brand-new CID, or one tracked only by some other
// receiver so far, takes a fresh reference that must be released exactly
// once, in removeSource.
func (r *Receiver) lookupHandle(cid uuid.UUID) (h registry.Handle, existed bool) {
	if h, ok := r.reg.HandleForCID(cid); ok {
		if _, tracked := r.sources[h]; tracked {
			return h, true
		}
		if err := r.reg.Ref(h); err != nil {
			return registry.InvalidHandle, false
		}
		return h, false
	}
	h, err := r.reg.AddOrRef(cid)
	if err != nil {
		return registry.InvalidHandle, false
	}
	return h, false
}

// removeSource deletes the tracked source and releases its registry
// reference. Safe to call even if h is not tracked.
func (r *Receiver) removeSource(h registry.Handle) {
	if _, ok := r.sources[h]; !ok {
		return
	}
	delete(r.sources, h)
	_ = r.reg.Release(h)
}

// NumSources reports the number of tracked sources, for diagnostics/tests.
func (r *Receiver) NumSources() int { return len(r.sources) }
