package source

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// TestRunnerShutdownDrainsTermination exercises the writer-thread
// lifecycle from spec §5 "source_state_deinit": canceling the runner's
// context cascades termination onto every owned source, and Run does not
// return until each has sent its termination packets and become Done.
func TestRunnerShutdownDrainsTermination(t *testing.T) {
	fs := newFakeSender(1)
	s := newTestSource(t, fs)
	require.NoError(t, s.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s.UpdateLevels(1, []byte{10, 20, 30}))

	r := NewRunner(zerolog.Nop())
	r.Add(s)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let at least one normal tick run before requesting shutdown.
	time.Sleep(3 * sacn.SourceThreadInterval)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown was requested")
	}

	require.True(t, s.Done())

	termCount := 0
	for _, pkt := range fs.multicastSends() {
		if pkt.pkt.Terminated {
			termCount++
		}
	}
	require.Equal(t, sacn.TerminationPackets, termCount)
}

// TestRunnerTicksMultipleSources confirms one writer thread drives every
// registered source, not just the first (spec §4.4 "process_sources").
func TestRunnerTicksMultipleSources(t *testing.T) {
	fs1 := newFakeSender(1)
	fs2 := newFakeSender(1)
	s1 := newTestSource(t, fs1)
	s2 := newTestSource(t, fs2)
	require.NoError(t, s1.AddUniverse(sacn.UniverseConfig{Universe: 1, Priority: 100}))
	require.NoError(t, s2.AddUniverse(sacn.UniverseConfig{Universe: 2, Priority: 100}))
	require.NoError(t, s1.UpdateLevels(1, []byte{1, 2, 3}))
	require.NoError(t, s2.UpdateLevels(2, []byte{4, 5, 6}))

	r := NewRunner(zerolog.Nop())
	r.Add(s1)
	r.Add(s2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(3 * sacn.SourceThreadInterval)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown was requested")
	}

	require.NotEmpty(t, fs1.multicastSends())
	require.NotEmpty(t, fs2.multicastSends())
}
