package mergereceiver

import (
	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/merge"
	"github.com/Tuhis/go-sacn/internal/receiver"
	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
)

// mergeSource tracks the one bit of state the façade adds on top of the
// merger's own per-source bookkeeping: whether this source's first DMX
// packet has arrived yet.
type mergeSource struct {
	pending bool
}

// MergeReceiver composes one Receiver and one Merger for a single universe
// (spec §4.6). It implements receiver.Notifier itself, so it can be handed
// directly to receiver.Manager.CreateReceiver as the notifier.
type MergeReceiver struct {
	universe uint16
	usePAP   bool
	notifier Notifier
	log      zerolog.Logger

	merger *merge.Merger

	sources      map[registry.Handle]*mergeSource
	pendingCount int
	sampling     bool
}

// New creates a MergeReceiver for universe. mergerCfg supplies the merger's
// output buffers and source limit (spec §4.6: the merger is sized to match
// the receiver it's paired with).
func New(universe uint16, usePAP bool, mergerCfg sacn.MergerConfig, notifier Notifier, log zerolog.Logger) *MergeReceiver {
	return &MergeReceiver{
		universe: universe,
		usePAP:   usePAP,
		notifier: notifier,
		log:      log.With().Str("component", "mergereceiver").Uint16("universe", universe).Logger(),
		merger:   merge.New(mergerCfg),
		sources:  make(map[registry.Handle]*mergeSource),
	}
}

// Levels returns the merger's current merged level buffer.
func (mr *MergeReceiver) Levels() *[sacn.MaxSlots]uint8 { return mr.merger.Levels() }

// Owners returns the merger's current per-slot owning source buffer.
func (mr *MergeReceiver) Owners() *[sacn.MaxSlots]registry.Handle { return mr.merger.Owners() }

// UniverseData implements receiver.Notifier: feeds the merger, applies
// pending-source gating, and fires MergedData once sampling has ended and
// no source is still pending its first DMX packet (spec §4.6).
func (mr *MergeReceiver) UniverseData(data receiver.UniverseData) {
	src, tracked := mr.sources[data.Source]
	if !tracked {
		pending := mr.usePAP && data.StartCode == sacn.StartCodePAP
		src = &mergeSource{pending: pending}
		mr.sources[data.Source] = src
		if err := mr.merger.AddSource(data.Source); err != nil {
			mr.log.Warn().Err(err).Msg("failed to add source to merger")
			delete(mr.sources, data.Source)
			return
		}
		if pending {
			mr.pendingCount++
		}
	}

	if src.pending && data.StartCode == sacn.StartCodeDMX {
		src.pending = false
		mr.pendingCount--
	}

	merged := false
	switch data.StartCode {
	case sacn.StartCodeDMX:
		_ = mr.merger.UpdateLevels(data.Source, data.Slots)
		_ = mr.merger.UpdateUniversePriority(data.Source, data.Priority)
		merged = true
	case sacn.StartCodePAP:
		if mr.usePAP {
			_ = mr.merger.UpdatePAP(data.Source, data.Slots)
			merged = true
		}
	default:
		mr.notifier.NonDmxData(NonDmxData{
			Universe:  data.Universe,
			Source:    data.Source,
			StartCode: data.StartCode,
			Slots:     data.Slots,
		})
		return
	}

	if merged {
		mr.maybeFireMergedData(data.Universe)
	}
}

// maybeFireMergedData fires MergedData iff sampling has ended and no
// tracked source is still pending its first DMX packet (spec §4.6).
func (mr *MergeReceiver) maybeFireMergedData(universe uint16) {
	if mr.sampling || mr.pendingCount != 0 {
		return
	}
	mr.notifier.MergedData(MergedData{
		Universe:      universe,
		Levels:        mr.merger.Levels(),
		Owners:        mr.merger.Owners(),
		ActiveSources: len(mr.sources),
	})
}

// SamplingPeriodStarted implements receiver.Notifier.
func (mr *MergeReceiver) SamplingPeriodStarted(universe uint16) {
	mr.sampling = true
}

// SamplingPeriodEnded implements receiver.Notifier: re-fires MergedData
// once on the sampling->not-sampling edge if every source has already
// cleared pending, mirroring the original implementation's end-of-sampling
// flush.
func (mr *MergeReceiver) SamplingPeriodEnded(universe uint16) {
	mr.sampling = false
	if len(mr.sources) > 0 {
		mr.maybeFireMergedData(universe)
	}
}

// SourcesLost implements receiver.Notifier: removes every lost source from
// the merger and the pending set, forwards the notification, then re-fires
// MergedData under the usual gate.
func (mr *MergeReceiver) SourcesLost(universe uint16, lost []receiver.LostSourceInfo) {
	for _, l := range lost {
		if src, ok := mr.sources[l.Handle]; ok {
			if src.pending {
				mr.pendingCount--
			}
			delete(mr.sources, l.Handle)
			_ = mr.merger.RemoveSource(l.Handle)
		}
	}
	mr.notifier.SourcesLost(universe, lost)
	mr.maybeFireMergedData(universe)
}

// SourceLimitExceeded implements receiver.Notifier.
func (mr *MergeReceiver) SourceLimitExceeded(universe uint16) {
	mr.notifier.SourceLimitExceeded(universe)
}

// SourcePAPLost implements receiver.Notifier: removes the source's PAP from
// the merger, reverting every slot it owned to its universe priority, and
// re-fires MergedData under the usual sampling/pending gate.
func (mr *MergeReceiver) SourcePAPLost(universe uint16, source registry.Handle) {
	if !mr.usePAP {
		return
	}
	_ = mr.merger.RemovePAP(source)
	mr.maybeFireMergedData(universe)
}

// NumPendingSources reports how many tracked sources are still waiting on
// their first DMX packet, for diagnostics/tests.
func (mr *MergeReceiver) NumPendingSources() int { return mr.pendingCount }

// Universe returns the universe this façade is bound to.
func (mr *MergeReceiver) Universe() uint16 { return mr.universe }

var _ receiver.Notifier = (*MergeReceiver)(nil)
