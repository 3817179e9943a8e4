package sacn

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

// DataPacket is the fully decoded form of one sACN data packet: root,
// framing, and DMP layers. See spec §6.1 for the byte layout.
type DataPacket struct {
	CID uuid.UUID

	SourceName string
	Priority   uint8
	SyncAddr   uint16
	Sequence   uint8
	Preview    bool
	Terminated bool
	ForceSync  bool
	Universe   uint16

	StartCode uint8
	Slots     []byte // 0..512 bytes
}

// DiscoveryPacket is the decoded form of a universe-discovery page.
type DiscoveryPacket struct {
	CID        uuid.UUID
	SourceName string
	Page       uint8
	LastPage   uint8
	Universes  []uint16
}

func putName(dst []byte, name string) {
	n := copy(dst, name)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	dst[len(dst)-1] = 0
}

func getName(src []byte) string {
	n := len(src)
	for i, b := range src {
		if b == 0 {
			n = i
			break
		}
	}
	return string(src[:n])
}

func pduFlagsLen(length int) uint16 {
	return 0x7000 | uint16(length&0x0FFF)
}

// PackDataPacket serializes a DataPacket into a ready-to-send sACN data
// datagram. len(p.Slots) must be <= MaxSlots.
func PackDataPacket(p *DataPacket) ([]byte, error) {
	if len(p.Slots) > MaxSlots {
		return nil, fmt.Errorf("%w: %d slots exceeds max %d", errInvalidSlots, len(p.Slots), MaxSlots)
	}

	total := MinDataPacketLen + len(p.Slots)
	buf := make([]byte, total)

	// Root layer.
	copy(buf[0:16], preamble[:])
	rootLen := total - 16
	binary.BigEndian.PutUint16(buf[16:18], pduFlagsLen(rootLen))
	binary.BigEndian.PutUint32(buf[18:22], RootVectorData)
	copy(buf[22:38], p.CID[:])

	// Framing layer.
	framingLen := total - 38
	binary.BigEndian.PutUint16(buf[38:40], pduFlagsLen(framingLen))
	binary.BigEndian.PutUint32(buf[40:44], FramingVectorData)
	putName(buf[44:108], p.SourceName)
	buf[108] = p.Priority
	binary.BigEndian.PutUint16(buf[109:111], p.SyncAddr)
	buf[111] = p.Sequence
	var options uint8
	if p.Preview {
		options |= optionPreview
	}
	if p.Terminated {
		options |= optionStreamTerminated
	}
	if p.ForceSync {
		options |= optionForceSync
	}
	buf[112] = options
	binary.BigEndian.PutUint16(buf[113:115], p.Universe)

	// DMP layer.
	dmpLen := total - 115
	binary.BigEndian.PutUint16(buf[115:117], pduFlagsLen(dmpLen))
	buf[117] = DMPVectorSetProperty
	buf[118] = DMPAddrDataType
	binary.BigEndian.PutUint16(buf[119:121], 0x0000)
	binary.BigEndian.PutUint16(buf[121:123], 0x0001)
	binary.BigEndian.PutUint16(buf[123:125], uint16(len(p.Slots)+1))
	buf[125] = p.StartCode
	copy(buf[126:], p.Slots)

	return buf, nil
}

var errInvalidSlots = sacnerr.ErrInvalid

// ParseDataPacket parses a raw UDP payload into a DataPacket, or returns an
// error if the packet is too short, malformed, or not a DATA packet.
func ParseDataPacket(data []byte) (*DataPacket, error) {
	if len(data) < MinDataPacketLen {
		return nil, fmt.Errorf("%w: packet too short (%d bytes)", errInvalidSlots, len(data))
	}
	if data[0] != preamble[0] || data[1] != preamble[1] {
		return nil, fmt.Errorf("sacn: invalid preamble size")
	}
	rootVector := binary.BigEndian.Uint32(data[18:22])
	if rootVector != RootVectorData {
		return nil, fmt.Errorf("sacn: not a data packet (root vector 0x%08x)", rootVector)
	}
	framingVector := binary.BigEndian.Uint32(data[40:44])
	if framingVector != FramingVectorData {
		return nil, fmt.Errorf("sacn: unexpected framing vector 0x%08x", framingVector)
	}
	if data[117] != DMPVectorSetProperty {
		return nil, fmt.Errorf("sacn: unexpected DMP vector 0x%02x", data[117])
	}
	if data[118] != DMPAddrDataType {
		return nil, fmt.Errorf("sacn: unexpected DMP address/data type 0x%02x", data[118])
	}

	propCount := binary.BigEndian.Uint16(data[123:125])
	if propCount == 0 {
		return nil, fmt.Errorf("sacn: property count must include the START code")
	}
	slotCount := int(propCount) - 1
	if slotCount > MaxSlots {
		return nil, fmt.Errorf("%w: declared slot count %d exceeds max %d", errInvalidSlots, slotCount, MaxSlots)
	}
	if len(data) < 126+slotCount {
		return nil, fmt.Errorf("%w: declared slot count %d extends past datagram", errInvalidSlots, slotCount)
	}

	p := &DataPacket{
		SourceName: getName(data[44:108]),
		Priority:   data[108],
		SyncAddr:   binary.BigEndian.Uint16(data[109:111]),
		Sequence:   data[111],
		Universe:   binary.BigEndian.Uint16(data[113:115]),
		StartCode:  data[125],
	}
	copy(p.CID[:], data[22:38])

	options := data[112]
	p.Preview = options&optionPreview != 0
	p.Terminated = options&optionStreamTerminated != 0
	p.ForceSync = options&optionForceSync != 0

	if slotCount > 0 {
		p.Slots = make([]byte, slotCount)
		copy(p.Slots, data[126:126+slotCount])
	}

	return p, nil
}

// PackDiscoveryPacket serializes one universe-discovery page.
func PackDiscoveryPacket(p *DiscoveryPacket) ([]byte, error) {
	if len(p.Universes) > MaxUniversesPerDiscoveryPage {
		return nil, fmt.Errorf("%w: %d universes exceeds per-page max %d", errInvalidSlots, len(p.Universes), MaxUniversesPerDiscoveryPage)
	}

	const discoveryLayerHeader = 8 // vector(4) + page(1) + last_page(1) + flags/len(2)
	total := 112 + discoveryLayerHeader + 2*len(p.Universes)
	buf := make([]byte, total)

	copy(buf[0:16], preamble[:])
	rootLen := total - 16
	binary.BigEndian.PutUint16(buf[16:18], pduFlagsLen(rootLen))
	binary.BigEndian.PutUint32(buf[18:22], RootVectorExtended)
	copy(buf[22:38], p.CID[:])

	framingLen := total - 38
	binary.BigEndian.PutUint16(buf[38:40], pduFlagsLen(framingLen))
	binary.BigEndian.PutUint32(buf[40:44], FramingVectorExtendedDiscovery)
	putName(buf[44:108], p.SourceName)
	// Reserved 4 bytes at offset 108..111 (no sync/sequence/universe fields
	// in the extended-framing variant).

	discOffset := 112
	discLen := total - discOffset
	binary.BigEndian.PutUint16(buf[discOffset:discOffset+2], pduFlagsLen(discLen))
	binary.BigEndian.PutUint32(buf[discOffset+2:discOffset+6], DiscoveryVectorUniverseList)
	buf[discOffset+6] = p.Page
	buf[discOffset+7] = p.LastPage

	off := discOffset + discoveryLayerHeader
	for _, u := range p.Universes {
		binary.BigEndian.PutUint16(buf[off:off+2], u)
		off += 2
	}

	return buf, nil
}

// ParseDiscoveryPacket parses a raw UDP payload as a universe-discovery
// page. Returns an error if it is not an EXTENDED/UNIVERSE_LIST packet.
func ParseDiscoveryPacket(data []byte) (*DiscoveryPacket, error) {
	if len(data) < 112+8 {
		return nil, fmt.Errorf("%w: discovery packet too short", errInvalidSlots)
	}
	if data[0] != preamble[0] || data[1] != preamble[1] {
		return nil, fmt.Errorf("sacn: invalid preamble size")
	}
	rootVector := binary.BigEndian.Uint32(data[18:22])
	if rootVector != RootVectorExtended {
		return nil, fmt.Errorf("sacn: not an extended packet (root vector 0x%08x)", rootVector)
	}
	framingVector := binary.BigEndian.Uint32(data[40:44])
	if framingVector != FramingVectorExtendedDiscovery {
		return nil, fmt.Errorf("sacn: not a discovery packet (framing vector 0x%08x)", framingVector)
	}

	discOffset := 112
	discVector := binary.BigEndian.Uint32(data[discOffset+2 : discOffset+6])
	if discVector != DiscoveryVectorUniverseList {
		return nil, fmt.Errorf("sacn: unexpected discovery vector 0x%08x", discVector)
	}

	p := &DiscoveryPacket{
		SourceName: getName(data[44:108]),
		Page:       data[discOffset+6],
		LastPage:   data[discOffset+7],
	}
	copy(p.CID[:], data[22:38])

	off := discOffset + 8
	n := (len(data) - off) / 2
	if n > MaxUniversesPerDiscoveryPage {
		n = MaxUniversesPerDiscoveryPage
	}
	p.Universes = make([]uint16, n)
	for i := 0; i < n; i++ {
		p.Universes[i] = binary.BigEndian.Uint16(data[off : off+2])
		off += 2
	}

	return p, nil
}

// RootVector reports which of RootVectorData/RootVectorExtended a raw
// datagram carries, without fully parsing it. Used by the receive
// dispatcher to pick a handler before committing to a full parse.
func RootVector(data []byte) (uint32, error) {
	if len(data) < 22 {
		return 0, fmt.Errorf("%w: packet too short for root layer", errInvalidSlots)
	}
	return binary.BigEndian.Uint32(data[18:22]), nil
}
