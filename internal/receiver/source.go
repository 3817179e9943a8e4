package receiver

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
)

// papState is the per-source PAP presence state machine (spec §4.2 table).
type papState int

const (
	papWaitingForPap papState = iota
	papHaveDmxOnly
	papHavePapOnly
	papHaveDmxAndPap
)

// trackedSource is one CID's bookkeeping within a single receiver.
type trackedSource struct {
	handle registry.Handle
	cid    uuid.UUID
	name   string

	netint int // arrival interface index last observed

	lastSeq    uint8
	haveSeq    bool
	terminated bool

	pap      papState
	usePAP   bool // PAP extension enabled for this receiver
	priority uint8
	papTimer time.Time // deadline; zero means no timer armed

	// packetTimer is the source-loss timer: reset on every accepted
	// packet, checked by update_source_status.
	packetTimer time.Time

	// waitForPriorityDeadline is armed when the first accepted packet is
	// DMX outside the sampling period: notification is withheld until
	// this deadline (a PAP may arrive first) or sampling resumes.
	waitForPriorityDeadline time.Time
	suppressedFirstDMX      bool
	pendingData             *UniverseData

	dmxSinceLastTick bool
}

// newTrackedSource creates bookkeeping for a just-discovered CID.
// startCode is the source's first accepted packet: a PAP-first source is
// seeded directly into papHavePapOnly (spec §4.2 "First packet is PAP:
// state = HavePapOnly") instead of papWaitingForPap, since that state
// means "DMX seen, priority still pending" and a PAP-first source has no
// DMX to report yet.
func newTrackedSource(h registry.Handle, cid uuid.UUID, usePAP bool, startCode byte, now time.Time) *trackedSource {
	src := &trackedSource{
		handle:      h,
		cid:         cid,
		pap:         papWaitingForPap,
		usePAP:      usePAP,
		packetTimer: now.Add(sacn.SourceLossTimeout),
	}
	if !usePAP {
		src.pap = papHaveDmxOnly
	}
	if usePAP && startCode == sacn.StartCodePAP {
		src.pap = papHavePapOnly
		src.papTimer = now.Add(sacn.SourceLossTimeout)
	}
	return src
}

// acceptSequence applies the out-of-order filter from spec §4.2: accept iff
// d = new-old (signed 8-bit) is > 0 or <= -20.
func (s *trackedSource) acceptSequence(newSeq uint8) bool {
	if !s.haveSeq {
		s.haveSeq = true
		s.lastSeq = newSeq
		return true
	}
	d := int8(newSeq - s.lastSeq)
	if d > 0 || d <= -20 {
		s.lastSeq = newSeq
		return true
	}
	return false
}

// papEvent is the outcome of feeding one packet through the PAP state
// machine: whether to notify, and whether source_pap_lost fired.
type papEvent struct {
	notify     bool
	suppressed bool // notify suppressed (first DMX outside sampling, awaiting PAP)
	papLost    bool
}

// onDMX drives the PAP state machine on a DMX-start-code packet.
func (s *trackedSource) onDMX(isSampling bool, now time.Time) papEvent {
	if !s.usePAP {
		return papEvent{notify: true}
	}

	switch s.pap {
	case papWaitingForPap:
		if isSampling {
			return papEvent{notify: true}
		}
		if !s.suppressedFirstDMX {
			s.suppressedFirstDMX = true
			s.waitForPriorityDeadline = now.Add(sacn.WaitForPriority)
		}
		if now.Before(s.waitForPriorityDeadline) {
			return papEvent{suppressed: true}
		}
		// The wait-for-priority window lapsed without a PAP packet; this
		// and every subsequent DMX packet behaves as a plain HaveDmxOnly
		// source. The periodic pass also promotes the state for sources
		// that stop sending before this path runs again.
		s.pap = papHaveDmxOnly
		return papEvent{notify: true}
	case papHaveDmxOnly:
		return papEvent{notify: true}
	case papHavePapOnly:
		s.pap = papHaveDmxAndPap
		s.papTimer = now.Add(sacn.SourceLossTimeout)
		return papEvent{notify: true}
	case papHaveDmxAndPap:
		if !s.papTimer.IsZero() && now.After(s.papTimer) {
			s.pap = papHaveDmxOnly
			return papEvent{notify: true, papLost: true}
		}
		return papEvent{notify: true}
	}
	return papEvent{notify: true}
}

// onPAP drives the PAP state machine on a universe-priority (PAP,
// StartCodePAP) packet.
func (s *trackedSource) onPAP(now time.Time) papEvent {
	switch s.pap {
	case papWaitingForPap, papHaveDmxOnly:
		s.pap = papHaveDmxAndPap
		s.papTimer = now.Add(sacn.SourceLossTimeout)
		return papEvent{notify: true}
	case papHavePapOnly:
		s.papTimer = now.Add(sacn.SourceLossTimeout)
		return papEvent{notify: true}
	case papHaveDmxAndPap:
		s.papTimer = now.Add(sacn.SourceLossTimeout)
		return papEvent{notify: true}
	}
	return papEvent{}
}
