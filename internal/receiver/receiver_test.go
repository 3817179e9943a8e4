package receiver

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
)

type fakeNotifier struct {
	data           []UniverseData
	samplingStart  int
	samplingEnd    int
	lost           [][]LostSourceInfo
	limitExceeded  int
	papLost        []registry.Handle
}

func (f *fakeNotifier) UniverseData(d UniverseData)                 { f.data = append(f.data, d) }
func (f *fakeNotifier) SamplingPeriodStarted(uint16)                 { f.samplingStart++ }
func (f *fakeNotifier) SamplingPeriodEnded(uint16)                   { f.samplingEnd++ }
func (f *fakeNotifier) SourcesLost(_ uint16, l []LostSourceInfo)     { f.lost = append(f.lost, l) }
func (f *fakeNotifier) SourceLimitExceeded(uint16)                   { f.limitExceeded++ }
func (f *fakeNotifier) SourcePAPLost(_ uint16, h registry.Handle)    { f.papLost = append(f.papLost, h) }

func newTestReceiver(t *testing.T, usePAP bool, sourceCountMax int) (*Receiver, *fakeNotifier, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	notifier := &fakeNotifier{}
	cfg := sacn.ReceiverConfig{Universe: 1, Footprint: sacn.FullFootprint, SourceCountMax: sourceCountMax}
	r := New(cfg, reg, notifier, usePAP, zerolog.Nop())
	r.AddNetints([]int{1}, time.Now())
	return r, notifier, reg
}

func dmxPacket(cid uuid.UUID, seq uint8, priority uint8, slots []byte) *sacn.DataPacket {
	return &sacn.DataPacket{
		CID:       cid,
		Universe:  1,
		Sequence:  seq,
		Priority:  priority,
		StartCode: sacn.StartCodeDMX,
		Slots:     slots,
	}
}

func TestHandleDataPacketDuringSamplingNotifiesImmediately(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 0)
	cid := uuid.New()
	now := time.Now()

	r.HandleDataPacket(dmxPacket(cid, 1, 100, []byte{1, 2, 3}), 1, now)

	require.Len(t, notifier.data, 1)
	assert.True(t, notifier.data[0].IsSampling)
	assert.Equal(t, uint16(1), notifier.data[0].Universe)
}

func TestOutOfOrderSequenceRejected(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 0)
	cid := uuid.New()
	now := time.Now()

	r.HandleDataPacket(dmxPacket(cid, 10, 100, []byte{1}), 1, now)
	r.HandleDataPacket(dmxPacket(cid, 9, 100, []byte{2}), 1, now) // d=-1, rejected
	r.HandleDataPacket(dmxPacket(cid, 11, 100, []byte{3}), 1, now) // d=1, accepted

	require.Len(t, notifier.data, 2)
	assert.Equal(t, byte(1), notifier.data[0].Slots[0])
	assert.Equal(t, byte(3), notifier.data[1].Slots[0])
}

func TestLargeBackwardJumpAccepted(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 0)
	cid := uuid.New()
	now := time.Now()

	r.HandleDataPacket(dmxPacket(cid, 100, 100, []byte{1}), 1, now)
	// d = 50 - 100 = -50 as int8 wraps; -50 <= -20, so accepted (source reset).
	r.HandleDataPacket(dmxPacket(cid, 50, 100, []byte{2}), 1, now)

	require.Len(t, notifier.data, 2)
}

func TestSourceLimitExceededFiresOnceUntilSourceLeaves(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 1)
	now := time.Now()

	r.HandleDataPacket(dmxPacket(uuid.New(), 1, 100, []byte{1}), 1, now)
	r.HandleDataPacket(dmxPacket(uuid.New(), 1, 100, []byte{1}), 1, now)
	r.HandleDataPacket(dmxPacket(uuid.New(), 1, 100, []byte{1}), 1, now)

	assert.Equal(t, 1, notifier.limitExceeded)
	assert.Equal(t, 1, r.NumSources())
}

func TestTerminationFlagMarksSourceOfflineImmediately(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 0)
	cid := uuid.New()
	now := time.Now()

	r.HandleDataPacket(dmxPacket(cid, 1, 100, []byte{1}), 1, now)
	require.Equal(t, 1, r.NumSources())

	term := dmxPacket(cid, 2, 100, []byte{1})
	term.Terminated = true
	r.HandleDataPacket(term, 1, now)

	// A further, non-terminated packet should now be dropped.
	r.HandleDataPacket(dmxPacket(cid, 3, 100, []byte{2}), 1, now)
	require.Len(t, notifier.data, 1, "packets after termination must be dropped")

	// The first periodic pass detects the expired packet_timer and puts the
	// source in a termination set; once expired_wait has elapsed, the next
	// pass reports it as lost, annotated as terminated.
	r.Process(now.Add(time.Millisecond))
	later := now.Add(sacn.DefaultExpiredWait + time.Millisecond)
	r.Process(later)
	require.Len(t, notifier.lost, 1)
	require.Len(t, notifier.lost[0], 1)
	assert.True(t, notifier.lost[0][0].Terminated)
	assert.Equal(t, 0, r.NumSources())
}

func TestSourceLossDebounceBouncesBackWithoutNotification(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 0)
	cid := uuid.New()
	now := time.Now()

	r.HandleDataPacket(dmxPacket(cid, 1, 100, []byte{1}), 1, now)

	// Simulate silence for less than SourceLossTimeout: periodic tick sees
	// the source as still within its packet_timer window.
	r.Process(now.Add(100 * time.Millisecond))
	assert.Empty(t, notifier.lost)

	// Source resumes sending before the loss timeout.
	r.HandleDataPacket(dmxPacket(cid, 2, 100, []byte{2}), 1, now.Add(200*time.Millisecond))
	r.Process(now.Add(300 * time.Millisecond))
	assert.Empty(t, notifier.lost)
	assert.Equal(t, 1, r.NumSources())
}

func TestPAPStateMachineDmxThenPapNotifiesBoth(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, true, 0)
	cid := uuid.New()
	now := time.Now()

	r.HandleDataPacket(dmxPacket(cid, 1, 100, []byte{1}), 1, now) // sampling: notifies immediately
	require.Len(t, notifier.data, 1)

	pap := dmxPacket(cid, 2, 100, []byte{200})
	pap.StartCode = sacn.StartCodePAP
	r.HandleDataPacket(pap, 1, now)
	require.Len(t, notifier.data, 2)
	assert.Equal(t, byte(sacn.StartCodePAP), notifier.data[1].StartCode)
}

func TestPAPSuppressedFirstDMXOutsideSamplingFiresOnWaitExpiry(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, true, 0)
	cid := uuid.New()
	now := time.Now()

	// End the initial sampling period so the source is not in a sampling
	// window when its first packet arrives.
	r.Process(now.Add(sacn.SampleTime + time.Millisecond))
	afterSampling := now.Add(sacn.SampleTime + 2*time.Millisecond)

	r.HandleDataPacket(dmxPacket(cid, 1, 100, []byte{42}), 1, afterSampling)
	assert.Empty(t, notifier.data, "first DMX outside sampling must be suppressed pending a PAP packet")

	past := afterSampling.Add(sacn.WaitForPriority + time.Millisecond)
	r.Process(past)
	require.Len(t, notifier.data, 1, "wait-for-priority expiry must flush the suppressed notification")
	assert.Equal(t, byte(42), notifier.data[0].Slots[0])
}

func TestPreviewFlagFilteredWhenConfigured(t *testing.T) {
	reg := registry.New()
	notifier := &fakeNotifier{}
	cfg := sacn.ReceiverConfig{Universe: 1, Footprint: sacn.FullFootprint, Flags: sacn.ReceiverFlags{FilterPreviewData: true}}
	r := New(cfg, reg, notifier, false, zerolog.Nop())
	r.AddNetints([]int{1}, time.Now())

	pkt := dmxPacket(uuid.New(), 1, 100, []byte{1})
	pkt.Preview = true
	r.HandleDataPacket(pkt, 1, time.Now())

	assert.Empty(t, notifier.data)
}

func TestFutureNetintPacketsDropped(t *testing.T) {
	r, notifier, _ := newTestReceiver(t, false, 0)
	now := time.Now()

	// Adding netint 2 while already sampling (receiver was created with
	// netint 1 active) makes the second interface "future".
	r.AddNetints([]int{2}, now)

	r.HandleDataPacket(dmxPacket(uuid.New(), 1, 100, []byte{1}), 2, now)
	assert.Empty(t, notifier.data, "packets on a future-sampling-period netint must be dropped")
}
