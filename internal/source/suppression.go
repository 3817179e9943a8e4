// Package source implements the Source Engine (spec §4.4): per-universe
// send buffers, the 4-packet-then-keep-alive transmission suppression
// policy, termination sequencing, and universe-discovery paging.
package source

import (
	"time"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// suppression tracks one stream's (level or PAP) transmission-suppression
// state: the first sacn.PreSuppressionPackets sends after any update are
// unconditional, after which sends are paced by a keep-alive interval.
type suppression struct {
	preCount int
	lastSent time.Time
}

// reset restarts the pre-suppression window; called when the stream's
// payload is updated, when the universe priority changes (level stream
// only), and when a unicast destination is added (spec §4.4
// "reset_transmission_suppression").
func (s *suppression) reset() {
	s.preCount = 0
	s.lastSent = time.Time{}
}

// shouldSend reports whether this tick must transmit the stream.
func (s *suppression) shouldSend(now time.Time, keepAlive time.Duration) bool {
	if s.preCount < sacn.PreSuppressionPackets {
		return true
	}
	return s.lastSent.IsZero() || now.Sub(s.lastSent) >= keepAlive
}

// markSent records that the stream was sent this tick.
func (s *suppression) markSent(now time.Time) {
	if s.preCount < sacn.PreSuppressionPackets {
		s.preCount++
	}
	s.lastSent = now
}
