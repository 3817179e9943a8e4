// Package receiver implements the Receiver Engine (spec §4.2): per-universe
// tracked-source bookkeeping, the sampling period, the PAP presence state
// machine, and the periodic housekeeping pass that feeds the source-loss
// debounce algorithm.
package receiver

import (
	"github.com/google/uuid"

	"github.com/Tuhis/go-sacn/internal/registry"
)

// UniverseData is delivered once per accepted data packet (spec §4.2 step 5).
type UniverseData struct {
	Universe   uint16
	Source     registry.Handle
	Priority   uint8
	Preview    bool
	StartCode  byte
	Slots      []byte
	IsSampling bool
}

// LostSourceInfo is one member of a sources_lost notification.
type LostSourceInfo struct {
	Handle     registry.Handle
	CID        uuid.UUID
	Terminated bool
}

// Notifier receives every callback the receiver engine fires. Implementations
// must not block; they are invoked synchronously from the receive thread's
// dispatch and periodic-processing path.
type Notifier interface {
	UniverseData(data UniverseData)
	SamplingPeriodStarted(universe uint16)
	SamplingPeriodEnded(universe uint16)
	SourcesLost(universe uint16, lost []LostSourceInfo)
	SourceLimitExceeded(universe uint16)
	SourcePAPLost(universe uint16, source registry.Handle)
}

// NopNotifier implements Notifier with no-ops, for tests and callers that
// only care about a subset of notifications (embed and override).
type NopNotifier struct{}

func (NopNotifier) UniverseData(UniverseData)                  {}
func (NopNotifier) SamplingPeriodStarted(uint16)                {}
func (NopNotifier) SamplingPeriodEnded(uint16)                  {}
func (NopNotifier) SourcesLost(uint16, []LostSourceInfo)        {}
func (NopNotifier) SourceLimitExceeded(uint16)                  {}
func (NopNotifier) SourcePAPLost(uint16, registry.Handle)       {}
