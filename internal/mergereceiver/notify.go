// Package mergereceiver implements the Merge-Receiver façade (spec §4.6):
// one Receiver Engine and one DMX Merger composed behind pending-source
// gating, so the application only ever sees fully-merged universe data.
package mergereceiver

import (
	"github.com/Tuhis/go-sacn/internal/receiver"
	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
)

// MergedData is delivered after each accepted DMX or PAP packet, at the end
// of the sampling period, and after sources are lost or stop sending PAP,
// but only while not sampling and with no source still pending its first
// DMX packet.
type MergedData struct {
	Universe      uint16
	Levels        *[sacn.MaxSlots]uint8
	Owners        *[sacn.MaxSlots]registry.Handle
	ActiveSources int
}

// NonDmxData is delivered for any accepted packet whose start code is
// neither DMX (0x00) nor PAP (0xDD); the merger has no opinion on these,
// so they pass straight through (supplements spec §4.6, grounded on the
// original implementation's universe_non_dmx callback).
type NonDmxData struct {
	Universe  uint16
	Source    registry.Handle
	StartCode byte
	Slots     []byte
}

// Notifier receives every callback the merge-receiver façade fires.
// Implementations must not block.
type Notifier interface {
	MergedData(data MergedData)
	NonDmxData(data NonDmxData)
	SourcesLost(universe uint16, lost []receiver.LostSourceInfo)
	SourceLimitExceeded(universe uint16)
}

// NopNotifier implements Notifier with no-ops; embed and override.
type NopNotifier struct{}

func (NopNotifier) MergedData(MergedData)                       {}
func (NopNotifier) NonDmxData(NonDmxData)                        {}
func (NopNotifier) SourcesLost(uint16, []receiver.LostSourceInfo) {}
func (NopNotifier) SourceLimitExceeded(uint16)                    {}
