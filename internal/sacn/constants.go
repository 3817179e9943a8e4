// Package sacn implements the sACN (ANSI E1.31) wire format: packing and
// parsing of root/framing/DMP layer PDUs and universe-discovery pages, plus
// the behavioral configuration structs shared by the receiver, source, and
// merger engines.
package sacn

import "time"

// Protocol-level constants (ANSI E1.31 / BSD-338).
const (
	Port = 5568

	MinUniverse = 1
	MaxUniverse = 63999

	MaxSlots  = 512
	MaxSourceName = 63 // + trailing NUL = 64 bytes on the wire

	MaxUniversePriority = 200

	StartCodeDMX = 0x00
	StartCodePAP = 0xDD

	RootVectorData     = 0x00000004
	RootVectorExtended = 0x00000008

	FramingVectorData             = 0x00000002
	FramingVectorExtendedDiscovery = 0x00000002

	DMPVectorSetProperty = 0x02
	DMPAddrDataType      = 0xA1

	DiscoveryVectorUniverseList = 0x00000001

	// DiscoveryUniverse is the reserved universe universe-discovery pages
	// are always sent to, outside the normal [MinUniverse, MaxUniverse]
	// range a data packet may target.
	DiscoveryUniverse = 64214

	MaxUniversesPerDiscoveryPage = 512

	// MinDataPacketLen is the smallest legal sACN data packet: header only,
	// zero slots (terminates on the START code byte).
	MinDataPacketLen = 126

	optionPreview           = 1 << 7
	optionStreamTerminated  = 1 << 6
	optionForceSync         = 1 << 5
)

// aNSI/ACN UDP preamble: preamble size, postamble size, then the ACN packet
// identifier "ASC-E1.17\0\0\0".
var preamble = [16]byte{
	0x00, 0x10, // preamble size
	0x00, 0x00, // postamble size
	0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00, // "ASC-E1.17\0\0\0"
}

// Default timing constants, named after the originating library's macros.
const (
	// SampleTime is how long a receiver observes all sources without
	// wait-for-PAP suppression after subscribing or changing netints.
	SampleTime = 1500 * time.Millisecond

	// WaitForPriority bounds how long a tracked source's first DMX packet
	// is held back (no notification) waiting for a PAP packet.
	WaitForPriority = 1500 * time.Millisecond

	// SourceLossTimeout is the "network data loss" timer: no packet on
	// either DMX or PAP stream for this long starts the loss algorithm.
	SourceLossTimeout = 2500 * time.Millisecond

	// PeriodicInterval is how often a receive thread runs its periodic
	// housekeeping pass (sampling expiry, source timeouts, loss debounce).
	PeriodicInterval = 250 * time.Millisecond

	// DefaultExpiredWait is the source-loss debounce window: an offline
	// source is reported only after this much additional time.
	DefaultExpiredWait = 1000 * time.Millisecond

	// SourceThreadInterval is the outgoing tick period for the source
	// engine's writer thread.
	SourceThreadInterval = 23 * time.Millisecond

	// UniverseDiscoveryInterval is how often a source re-sends its full
	// universe-discovery page set.
	UniverseDiscoveryInterval = 10 * time.Second

	// ReceiverReadTimeout bounds how long a receive thread blocks in its
	// poll before re-checking subscription queues and periodic timers.
	ReceiverReadTimeout = 1 * time.Second

	// SourceMulticastTTL is the outgoing multicast TTL for all sACN sends.
	SourceMulticastTTL = 64

	// PreSuppressionPackets is the number of consecutive ticks a stream
	// (level or PAP) must be sent on after any update, before transmission
	// suppression may kick in.
	PreSuppressionPackets = 4

	// TerminationPackets is the number of stream-terminated packets sent
	// (per destination) when a universe or unicast destination is removed.
	TerminationPackets = 3
)
