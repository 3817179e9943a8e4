package receiver

import (
	"time"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
)

// Process runs one periodic housekeeping pass (spec §4.2 "Periodic
// processing"), called every sacn.PeriodicInterval by the owning receive
// thread.
func (r *Receiver) Process(now time.Time) {
	r.processSampling(now)

	if r.sampling && !r.notifiedSamplingStarted {
		r.notifiedSamplingStarted = true
		r.notifier.SamplingPeriodStarted(r.cfg.Universe)
		r.metrics.SamplingPeriodStarted(r.cfg.Universe)
	}

	var offline, online, unknown []registry.Handle
	terminated := make(map[registry.Handle]bool)
	var toRemove []registry.Handle

	for h, src := range r.sources {
		if src.pap == papWaitingForPap && src.suppressedFirstDMX && !now.Before(src.waitForPriorityDeadline) {
			src.pap = papHaveDmxOnly
			if src.pendingData != nil {
				r.notifier.UniverseData(*src.pendingData)
				src.pendingData = nil
			}
		}

		// A source still waiting for its first priority packet is not fed
		// through the source-loss algorithm (check_source_timeouts):
		// update_source_status only runs for HaveDmxOnly/HavePapOnly/
		// HaveDmxAndPap. If it times out here it is simply dropped, with
		// no sources_lost notification for a source the application was
		// never told about.
		if src.pap == papWaitingForPap {
			src.dmxSinceLastTick = false
			if now.After(src.packetTimer) {
				toRemove = append(toRemove, h)
			}
			continue
		}

		switch {
		case now.After(src.packetTimer):
			offline = append(offline, h)
			terminated[h] = src.terminated
		case src.dmxSinceLastTick:
			online = append(online, h)
		default:
			unknown = append(unknown, h)
		}
		src.dmxSinceLastTick = false
	}

	r.loss.MarkOffline(offline, terminated, unknown, now, sacn.DefaultExpiredWait)
	r.loss.MarkOnline(online)

	expired := r.loss.GetExpired(now)
	if len(expired) > 0 {
		r.suppressLimitExceeded = false
		lost := make([]LostSourceInfo, 0, len(expired))
		for _, ls := range expired {
			cid, _ := r.reg.CIDForHandle(ls.Handle)
			lost = append(lost, LostSourceInfo{Handle: ls.Handle, CID: cid, Terminated: ls.Terminated})
			toRemove = append(toRemove, ls.Handle)
		}
		r.notifier.SourcesLost(r.cfg.Universe, lost)
		for range lost {
			r.metrics.SourceLost(r.cfg.Universe)
		}
	}

	for _, h := range toRemove {
		r.removeSource(h)
	}
	r.metrics.SetSourcesTracked(r.cfg.Universe, len(r.sources))
}

// processSampling implements periodic step 1: end an expired sampling
// period, promote any future netints to current, and re-begin sampling
// over them if there were any.
func (r *Receiver) processSampling(now time.Time) {
	if !r.sampling || now.Before(r.samplingDeadline) {
		return
	}

	r.sampling = false
	r.notifier.SamplingPeriodEnded(r.cfg.Universe)

	if len(r.futureNetints) == 0 {
		return
	}
	for ni := range r.futureNetints {
		r.currentNetints[ni] = true
		delete(r.futureNetints, ni)
	}
	r.beginSampling(now)
}
