package sacn

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// IPSupport selects which IP families a receiver or source operates over.
type IPSupport int

const (
	IPSupportV4 IPSupport = iota
	IPSupportV6
	IPSupportBoth
)

// UnicastDestConfig describes one unicast destination configured on a
// source universe at creation time.
type UnicastDestConfig struct {
	Addr string // host (no port; Port is always used)
}

// UniverseConfig configures a single outgoing universe on a Source.
type UniverseConfig struct {
	Universe         uint16
	Priority         uint8
	SendPreview      bool
	SendUnicastOnly  bool
	UnicastDests     []UnicastDestConfig
	SyncUniverse     uint16 // accepted, never affects the wire format (spec §9 open question)
}

// Validate checks the universe config against spec §6.3.
func (c *UniverseConfig) Validate() error {
	if err := ValidateUniverse(c.Universe); err != nil {
		return err
	}
	if err := ValidatePriority(c.Priority); err != nil {
		return err
	}
	return nil
}

// SourceConfig configures an outgoing Source.
type SourceConfig struct {
	CID                  uuid.UUID
	Name                 string
	UniverseCountMax     int // 0 means unbounded (dynamic mode)
	ManuallyProcessSource bool
	IPSupported          IPSupport
	KeepAliveInterval    time.Duration
	PAPKeepAliveInterval time.Duration
}

// Validate checks the source config against spec §6.3.
func (c *SourceConfig) Validate() error {
	if c.CID == uuid.Nil {
		return fmt.Errorf("%w: source CID must be non-nil", errInvalidSlots)
	}
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("%w: keep-alive interval must be > 0", errInvalidSlots)
	}
	if c.PAPKeepAliveInterval <= 0 {
		return fmt.Errorf("%w: PAP keep-alive interval must be > 0", errInvalidSlots)
	}
	return nil
}

// ReceiverFlags are per-receiver behavioral flags.
type ReceiverFlags struct {
	FilterPreviewData bool
}

// Footprint is a DMX address-space subrange. This implementation only
// supports the full 512-slot footprint (spec §9 open question); the field
// exists so a future port can narrow it without an API break.
type Footprint struct {
	StartAddress int
	AddressCount int
}

// FullFootprint is the only footprint this implementation produces.
var FullFootprint = Footprint{StartAddress: 1, AddressCount: MaxSlots}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Universe        uint16
	Footprint       Footprint
	SourceCountMax  int // 0 means unbounded (dynamic mode)
	Flags           ReceiverFlags
	IPSupported     IPSupport
}

// Validate checks the receiver config against spec §6.3.
func (c *ReceiverConfig) Validate() error {
	if err := ValidateUniverse(c.Universe); err != nil {
		return err
	}
	if c.Footprint.AddressCount == 0 {
		c.Footprint = FullFootprint
	}
	if c.Footprint.AddressCount > MaxSlots || c.Footprint.AddressCount < 0 {
		return fmt.Errorf("%w: address count %d exceeds %d", errInvalidSlots, c.Footprint.AddressCount, MaxSlots)
	}
	if c.Footprint != FullFootprint {
		return fmt.Errorf("%w: only the full %d-slot footprint is supported", sacnerr.ErrNotImpl, MaxSlots)
	}
	return nil
}

// MergerConfig configures a DMX Merger. Levels and Owners are externally
// owned fixed 512-element buffers; either may be nil to request an
// internally allocated fallback buffer.
type MergerConfig struct {
	Levels         *[MaxSlots]uint8
	Owners         *[MaxSlots]registry.Handle // registry.InvalidHandle means no owner
	SourceCountMax int                        // 0 means unbounded
}
