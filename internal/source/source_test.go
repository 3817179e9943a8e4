package source

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

type sentPacket struct {
	unicast bool
	ifIndex int
	dest    *net.UDPAddr
	pkt     *sacn.DataPacket
}

type fakeSender struct {
	ifIndexes []int
	sent      []sentPacket
}

func newFakeSender(ifIndexes ...int) *fakeSender {
	return &fakeSender{ifIndexes: ifIndexes}
}

func (f *fakeSender) SendMulticast(universe uint16, _ sacn.IPSupport, buf []byte, ifIndex int) error {
	pkt, err := sacn.ParseDataPacket(buf)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentPacket{ifIndex: ifIndex, pkt: pkt})
	return nil
}

func (f *fakeSender) SendUnicast(buf []byte, dest *net.UDPAddr) error {
	pkt, err := sacn.ParseDataPacket(buf)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentPacket{unicast: true, dest: dest, pkt: pkt})
	return nil
}

func (f *fakeSender) IfIndexes() []int {
	return f.ifIndexes
}

func (f *fakeSender) multicastSends() []sentPacket {
	var out []sentPacket
	for _, s := range f.sent {
		if !s.unicast {
			out = append(out, s)
		}
	}
	return out
}

func newTestSource(t *testing.T, sockets Sender) *Source {
	t.Helper()
	cfg := sacn.SourceConfig{
		CID:                  uuid.New(),
		Name:                 "test source",
		KeepAliveInterval:    sacn.SourceThreadInterval * 1000, // effectively never in these tests
		PAPKeepAliveInterval: sacn.SourceThreadInterval * 1000,
	}
	s, err := New(cfg, sockets, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestPreSuppressionSendsFourThenGatesOnKeepAlive(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{10, 20, 30}))

	now := time.Now()
	for i := 0; i < sacn.PreSuppressionPackets; i++ {
		s.Tick(now)
		now = now.Add(sacn.SourceThreadInterval)
	}
	require.Len(t, fs.multicastSends(), sacn.PreSuppressionPackets)

	// Fifth tick, keep-alive interval not elapsed: suppressed.
	s.Tick(now)
	require.Len(t, fs.multicastSends(), sacn.PreSuppressionPackets)

	// Advance past the keep-alive interval: sends resume.
	now = now.Add(s.cfg.KeepAliveInterval)
	s.Tick(now)
	require.Len(t, fs.multicastSends(), sacn.PreSuppressionPackets+1)
}

func TestUpdateLevelsResetsSuppression(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{1, 2, 3}))

	now := time.Now()
	for i := 0; i < sacn.PreSuppressionPackets; i++ {
		s.Tick(now)
		now = now.Add(sacn.SourceThreadInterval)
	}
	s.Tick(now) // suppressed
	require.Len(t, fs.multicastSends(), sacn.PreSuppressionPackets)

	require.NoError(t, s.UpdateLevels(1, []byte{4, 5, 6}))
	now = now.Add(sacn.SourceThreadInterval)
	s.Tick(now) // pre-suppression window restarted, must send
	require.Len(t, fs.multicastSends(), sacn.PreSuppressionPackets+1)
}

func TestZeroPriorityForcesZeroLevel(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{10, 20, 30}))
	require.NoError(t, s.UpdatePAP(1, []byte{200, 0, 200}))

	s.Tick(time.Now())
	require.NotEmpty(t, fs.multicastSends())
	// The tick also sends a PAP packet; check the last level (DMX) packet.
	var last sentPacket
	for _, sp := range fs.multicastSends() {
		if sp.pkt.StartCode == sacn.StartCodeDMX {
			last = sp
		}
	}
	require.Equal(t, []byte{10, 0, 30}, last.pkt.Slots)
}

func TestRemovePAPRevertsToRawLevels(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{10, 20, 30}))
	require.NoError(t, s.UpdatePAP(1, []byte{200, 0, 200}))
	require.NoError(t, s.RemovePAP(1))

	s.Tick(time.Now())
	last := fs.multicastSends()[len(fs.multicastSends())-1]
	require.Equal(t, []byte{10, 20, 30}, last.pkt.Slots)
}

func TestSequenceNumberIncrementsOncePerSend(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{1}))
	require.NoError(t, s.AddUnicastDest(1, "10.0.0.5"))

	now := time.Now()
	s.Tick(now)

	var seqs []uint8
	for _, sp := range fs.sent {
		seqs = append(seqs, sp.pkt.Sequence)
	}
	require.Len(t, seqs, 2) // one multicast, one unicast
	require.Equal(t, seqs[0], seqs[1], "multicast and unicast share one sequence number per send event")

	now = now.Add(sacn.SourceThreadInterval)
	s.Tick(now) // still within the pre-suppression window: sends again
	require.Len(t, fs.sent, 4)
	require.Equal(t, fs.sent[2].pkt.Sequence, fs.sent[3].pkt.Sequence)
	require.Equal(t, seqs[0]+1, fs.sent[2].pkt.Sequence)
}

func TestTerminationSendsThreePacketsThenRemovesUniverse(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{1, 2, 3}))

	now := time.Now()
	s.Tick(now) // one regular send

	require.NoError(t, s.RemoveUniverse(1, false))

	for i := 0; i < sacn.TerminationPackets; i++ {
		now = now.Add(sacn.SourceThreadInterval)
		s.Tick(now)
	}

	_, stillPresent := s.universes[1]
	require.False(t, stillPresent, "universe must be removed once termination completes")

	var terminatedCount int
	for _, sp := range fs.sent {
		if sp.pkt.Terminated {
			terminatedCount++
		}
	}
	require.Equal(t, sacn.TerminationPackets, terminatedCount)
}

func TestTerminateWithoutRemovingRevertsState(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{1, 2, 3}))

	now := time.Now()
	s.Tick(now)

	require.NoError(t, s.RemoveUniverse(1, true))
	for i := 0; i < sacn.TerminationPackets; i++ {
		now = now.Add(sacn.SourceThreadInterval)
		s.Tick(now)
	}

	u, ok := s.universes[1]
	require.True(t, ok, "terminate-without-removing keeps the universe")
	require.Equal(t, notTerminating, u.termState)
	require.False(t, u.hasLevelData)

	// A fresh update after terminate-without-removing finishes must cancel
	// the (now-resolved) terminating state and resume normal sends.
	require.NoError(t, s.UpdateLevels(1, []byte{9, 9, 9}))
	now = now.Add(sacn.SourceThreadInterval)
	s.Tick(now)
	last := fs.multicastSends()[len(fs.multicastSends())-1]
	require.Equal(t, []byte{9, 9, 9}, last.pkt.Slots)
	require.False(t, last.pkt.Terminated)
}

func TestUpdateLevelsCancelsPendingTerminateWithoutRemoving(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{1, 2, 3}))

	require.NoError(t, s.RemoveUniverse(1, true))
	require.NoError(t, s.UpdateLevels(1, []byte{4, 5, 6}))

	u := s.universes[1]
	require.Equal(t, notTerminating, u.termState)
}

func TestWholeSourceTerminateCascadesToEveryUniverse(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 2, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{1}))
	require.NoError(t, s.UpdateLevels(2, []byte{2}))

	now := time.Now()
	s.Tick(now)

	s.Terminate()
	for i := 0; i < sacn.TerminationPackets; i++ {
		now = now.Add(sacn.SourceThreadInterval)
		s.Tick(now)
	}

	require.True(t, s.Done())
}

func TestSendNowIncrementsSequence(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))

	require.NoError(t, s.SendNow(1, sacn.StartCodeDMX, []byte{7, 8, 9}))
	require.NoError(t, s.SendNow(1, sacn.StartCodeDMX, []byte{7, 8, 9}))

	require.Len(t, fs.sent, 2)
	require.Equal(t, uint8(0), fs.sent[0].pkt.Sequence)
	require.Equal(t, uint8(1), fs.sent[1].pkt.Sequence)
}

func TestDiscoveryPagesOnlyIncludeActiveUniverses(t *testing.T) {
	ds := newDiscoverySink(1)
	s := newTestSource(t, ds)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 5, Priority: 100}))
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 3, Priority: 100}))
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 9, Priority: 100, SendUnicastOnly: true}))
	require.NoError(t, s.UpdateLevels(5, []byte{1}))
	require.NoError(t, s.UpdateLevels(3, []byte{1}))
	require.NoError(t, s.UpdateLevels(9, []byte{1}))

	s.sendDiscovery(time.Now())

	require.Len(t, ds.pages, 1)
	require.Equal(t, []uint16{3, 5}, ds.pages[0].Universes, "universe 9 is unicast-only and excluded; ids sorted ascending")
}

func TestDiscoveryPaginatesAtMaxPerPage(t *testing.T) {
	ds := newDiscoverySink(1)
	s := newTestSource(t, ds)
	for u := uint16(1); u <= sacn.MaxUniversesPerDiscoveryPage+10; u++ {
		require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: u, Priority: 100}))
		require.NoError(t, s.UpdateLevels(u, []byte{1}))
	}

	s.sendDiscovery(time.Now())

	require.Len(t, ds.pages, 2)
	require.Equal(t, uint8(0), ds.pages[0].Page)
	require.Equal(t, uint8(1), ds.pages[0].LastPage)
	require.Len(t, ds.pages[0].Universes, sacn.MaxUniversesPerDiscoveryPage)
	require.Len(t, ds.pages[1].Universes, 10)
}

// discoverySink is a Sender that decodes discovery packets instead of data
// packets, since fakeSender.SendMulticast assumes a DataPacket layout.
type discoverySink struct {
	*fakeSender
	pages []*sacn.DiscoveryPacket
}

func newDiscoverySink(ifIndexes ...int) *discoverySink {
	return &discoverySink{fakeSender: newFakeSender(ifIndexes...)}
}

func (d *discoverySink) SendMulticast(universe uint16, ipSupport sacn.IPSupport, buf []byte, ifIndex int) error {
	if universe == sacn.DiscoveryUniverse {
		pkt, err := sacn.ParseDiscoveryPacket(buf)
		if err != nil {
			return err
		}
		d.pages = append(d.pages, pkt)
		return nil
	}
	return d.fakeSender.SendMulticast(universe, ipSupport, buf, ifIndex)
}
