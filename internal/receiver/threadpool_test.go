package receiver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnnet"
)

// TestPoolSpawnStopsOnContextCancel exercises the receive-thread lifecycle
// from spec §5 "receiver_state_deinit": canceling the pool's context makes
// the spawned thread return from its blocking Read and Wait unblocks
// without error.
func TestPoolSpawnStopsOnContextCancel(t *testing.T) {
	netints, err := sacnnet.ProbeInterfaces()
	if err != nil {
		t.Skipf("no multicast-capable interface available: %v", err)
	}

	rc, err := sacnnet.NewReceiveContext(sacnnet.SharedSocket, false, netints, false, zerolog.Nop())
	if err != nil {
		t.Skipf("could not bind shared receive socket: %v", err)
	}
	defer rc.Close()

	reg := registry.New()
	mgr := NewManager(reg, nil, zerolog.Nop())

	pool := NewPool(mgr, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Spawn(ctx, rc)

	now := time.Now()
	_, err = mgr.CreateReceiver(sacn.ReceiverConfig{Universe: 1}, NopNotifier{}, false, []int{netints[0].IfIndex}, now)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan error, 1)
	go func() { done <- pool.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not shut down after context cancellation")
	}
}
