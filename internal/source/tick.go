package source

import (
	"time"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// Tick runs one pass of process_sources (spec §4.4 "Per source per tick").
// Threaded sources call this every sacn.SourceThreadInterval; manually
// processed sources call it via ProcessManual instead.
func (s *Source) Tick(now time.Time) {
	var toRemove []uint16

	for univ, u := range s.universes {
		if s.terminating && u.termState == notTerminating {
			u.termState = terminatingAndRemoving
		}

		if u.termState != notTerminating {
			finished := s.processTermination(univ, u, now)
			if finished && u.termState == terminatingAndRemoving {
				toRemove = append(toRemove, univ)
			}
			continue
		}

		s.transmitLevelsAndPAP(univ, u, now)
	}

	for _, univ := range toRemove {
		delete(s.universes, univ)
	}

	if !s.terminating && now.After(s.discoveryTimer) {
		s.sendDiscovery(now)
		s.discoveryTimer = now.Add(sacn.UniverseDiscoveryInterval)
	}
}

// ProcessManual is the entry point for sources configured with
// ManuallyProcessSource: the application drives ticks itself instead of a
// background writer thread.
func (s *Source) ProcessManual(now time.Time) {
	s.Tick(now)
}

// processTermination advances one universe's termination sequence,
// returning true once it has fully finished (all termination packets sent,
// or no data ever existed to terminate).
func (s *Source) processTermination(univ uint16, u *universe, now time.Time) bool {
	for _, d := range u.unicastDests {
		if !d.terminating {
			continue
		}
		if u.hasLevelData && d.termSent < sacn.TerminationPackets {
			buf := s.packLevelPacket(univ, u, true)
			_ = s.sockets.SendUnicast(buf, d.addr)
			d.termSent++
		}
	}
	remaining := u.unicastDests[:0]
	for _, d := range u.unicastDests {
		if d.terminating && (!u.hasLevelData || d.termSent >= sacn.TerminationPackets) {
			continue // finished, drop it
		}
		remaining = append(remaining, d)
	}
	u.unicastDests = remaining

	if !u.hasLevelData {
		return s.finishTermination(u)
	}

	if u.multicastTermSent < sacn.TerminationPackets {
		buf := s.packLevelPacket(univ, u, true)
		for _, ifIndex := range s.sockets.IfIndexes() {
			_ = s.sockets.SendMulticast(univ, s.cfg.IPSupported, buf, ifIndex)
		}
		u.multicastTermSent++
	}

	anyUnicastTerminating := false
	for _, d := range u.unicastDests {
		if d.terminating {
			anyUnicastTerminating = true
			break
		}
	}
	if u.multicastTermSent >= sacn.TerminationPackets && !anyUnicastTerminating {
		return s.finishTermination(u)
	}
	return false
}

func (s *Source) finishTermination(u *universe) bool {
	if u.termState == terminatingWithoutRemoving {
		u.termState = notTerminating
		u.hasLevelData = false
		u.hasPAPData = false
		u.papValid = false
		u.multicastTermSent = 0
	}
	return true
}

// transmitLevelsAndPAP sends the level and/or PAP stream if suppression
// policy requires it this tick (spec §4.4 "transmit_levels_and_pap").
func (s *Source) transmitLevelsAndPAP(univ uint16, u *universe, now time.Time) {
	if !u.hasLevelData {
		return
	}

	levelDue := u.levelSuppress.shouldSend(now, s.cfg.KeepAliveInterval)
	s.metrics.SetSuppressed(univ, "level", !levelDue)
	if levelDue {
		buf := s.packLevelPacket(univ, u, false)
		s.sendOnAll(univ, u, buf)
		u.levelSuppress.markSent(now)
		s.metrics.PacketSent(univ, "level")
	}

	if u.papValid && u.hasPAPData {
		papDue := u.papSuppress.shouldSend(now, s.cfg.PAPKeepAliveInterval)
		s.metrics.SetSuppressed(univ, "pap", !papDue)
		if papDue {
			buf := s.packPAPPacket(univ, u)
			s.sendOnAll(univ, u, buf)
			u.papSuppress.markSent(now)
			s.metrics.PacketSent(univ, "pap")
		}
	}
}

func (s *Source) sendOnAll(univ uint16, u *universe, buf []byte) {
	if !u.unicastOnly {
		for _, ifIndex := range s.sockets.IfIndexes() {
			if err := s.sockets.SendMulticast(univ, s.cfg.IPSupported, buf, ifIndex); err != nil {
				s.log.Warn().Err(err).Uint16("universe", univ).Msg("multicast send failed")
			}
		}
	}
	for _, d := range u.unicastDests {
		if d.terminating {
			continue
		}
		if err := s.sockets.SendUnicast(buf, d.addr); err != nil {
			s.log.Warn().Err(err).Uint16("universe", univ).Msg("unicast send failed")
		}
	}
}

func (s *Source) packLevelPacket(univ uint16, u *universe, terminated bool) []byte {
	buf, err := sacn.PackDataPacket(&sacn.DataPacket{
		CID:        s.cfg.CID,
		SourceName: s.cfg.Name,
		Priority:   u.priority,
		Sequence:   u.nextSeq(),
		Preview:    u.preview,
		Terminated: terminated,
		Universe:   univ,
		StartCode:  sacn.StartCodeDMX,
		Slots:      u.effLevels[:u.levelCount],
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to pack level packet")
		return nil
	}
	return buf
}

func (s *Source) packPAPPacket(univ uint16, u *universe) []byte {
	buf, err := sacn.PackDataPacket(&sacn.DataPacket{
		CID:        s.cfg.CID,
		SourceName: s.cfg.Name,
		Priority:   u.priority,
		Sequence:   u.nextSeq(),
		Preview:    u.preview,
		Universe:   univ,
		StartCode:  sacn.StartCodePAP,
		Slots:      u.pap[:u.papCount],
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to pack PAP packet")
		return nil
	}
	return buf
}

// SendNow builds a one-off data packet with the given start code and
// payload and transmits it multicast and unicast, incrementing the
// universe's sequence counter (spec §4.4 "send_now").
func (s *Source) SendNow(univ uint16, startCode byte, data []byte) error {
	u, err := s.mustUniverse(univ)
	if err != nil {
		return err
	}
	buf, err := sacn.PackDataPacket(&sacn.DataPacket{
		CID:        s.cfg.CID,
		SourceName: s.cfg.Name,
		Priority:   u.priority,
		Sequence:   u.nextSeq(),
		Preview:    u.preview,
		Universe:   univ,
		StartCode:  startCode,
		Slots:      data,
	})
	if err != nil {
		return err
	}
	s.sendOnAll(univ, u, buf)
	return nil
}

// sendDiscovery builds and sends the universe-discovery page sequence
// (spec §4.4 "Universe discovery"): included universes are those with
// level data that are not unicast-only; pages hold up to
// sacn.MaxUniversesPerDiscoveryPage ids each.
func (s *Source) sendDiscovery(now time.Time) {
	var active []uint16
	for _, id := range s.sortedUniverseIDs() {
		u := s.universes[id]
		if u.hasLevelData && !u.unicastOnly && u.termState == notTerminating {
			active = append(active, id)
		}
	}

	if len(active) == 0 {
		return
	}

	lastPage := (len(active) - 1) / sacn.MaxUniversesPerDiscoveryPage

	for page := 0; page <= lastPage; page++ {
		start := page * sacn.MaxUniversesPerDiscoveryPage
		end := start + sacn.MaxUniversesPerDiscoveryPage
		if end > len(active) {
			end = len(active)
		}
		buf, err := sacn.PackDiscoveryPacket(&sacn.DiscoveryPacket{
			CID:        s.cfg.CID,
			SourceName: s.cfg.Name,
			Page:       uint8(page),
			LastPage:   uint8(lastPage),
			Universes:  active[start:end],
		})
		if err != nil {
			s.log.Error().Err(err).Msg("failed to pack discovery packet")
			return
		}
		for _, ifIndex := range s.sockets.IfIndexes() {
			_ = s.sockets.SendMulticast(sacn.DiscoveryUniverse, s.cfg.IPSupported, buf, ifIndex)
		}
	}
}
