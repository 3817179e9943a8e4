// Command sacn-monitor is a terminal UI that joins the default range of
// sACN universes and displays each universe's merged (HTP+PAP) state,
// produced by a mergereceiver.MergeReceiver per universe rather than a
// single source's raw packet stream (the teacher's original design).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tuhis/go-sacn/internal/mergereceiver"
	"github.com/Tuhis/go-sacn/internal/receiver"
	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnnet"
	"github.com/Tuhis/go-sacn/internal/stats"
	"github.com/Tuhis/go-sacn/internal/tui"
	"github.com/Tuhis/go-sacn/internal/universe"

	tea "github.com/charmbracelet/bubbletea"
)

// defaultFirstUniverse/defaultLastUniverse mirror the teacher's default
// join range: universes commonly used by lighting consoles out of the box.
const (
	defaultFirstUniverse = 1
	defaultLastUniverse  = 63
)

// monitorNotifier adapts mergereceiver.Notifier callbacks into updates on
// the universe/stats state the TUI reads.
type monitorNotifier struct {
	universes *universe.Manager
	tracker   *stats.Tracker
}

func (n *monitorNotifier) MergedData(d mergereceiver.MergedData) {
	now := time.Now()
	u := n.universes.GetOrCreate(d.Universe)
	u.ApplyMerge(d.Levels, d.Owners, d.ActiveSources, now)
	n.tracker.RecordMerge(d.Universe, d.ActiveSources, now)
}

func (n *monitorNotifier) NonDmxData(mergereceiver.NonDmxData) {}

func (n *monitorNotifier) SourcesLost(universeID uint16, lost []receiver.LostSourceInfo) {
	n.tracker.RecordSourcesLost(universeID, len(lost), time.Now())
}

func (n *monitorNotifier) SourceLimitExceeded(uint16) {}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("app", "sacn-monitor").Logger()

	universeManager := universe.NewManager()
	statsTracker := stats.NewTracker()
	notifier := &monitorNotifier{universes: universeManager, tracker: statsTracker}

	netints, err := sacnnet.ProbeInterfaces()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error probing network interfaces: %v\n", err)
		os.Exit(1)
	}
	ifIndexes := make([]int, 0, len(netints))
	for _, ni := range netints {
		ifIndexes = append(ifIndexes, ni.IfIndex)
	}

	reg := registry.New()
	recvMgr := receiver.NewManager(reg, nil, log)
	mergeMgr := mergereceiver.NewManager(recvMgr, log)

	now := time.Now()
	for u := uint16(defaultFirstUniverse); u <= defaultLastUniverse; u++ {
		cfg := sacn.ReceiverConfig{Universe: u, IPSupported: sacn.IPSupportV4}
		if _, err := mergeMgr.CreateMergeReceiver(cfg, true, 0, notifier, ifIndexes, now); err != nil {
			log.Warn().Err(err).Uint16("universe", u).Msg("failed to create merge receiver")
		}
	}

	rc, err := sacnnet.NewReceiveContext(sacnnet.SharedSocket, false, netints, false, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening receive sockets: %v\n", err)
		os.Exit(1)
	}
	defer rc.Close()

	for u := uint16(defaultFirstUniverse); u <= defaultLastUniverse; u++ {
		for _, ifIndex := range ifIndexes {
			rc.Subscribe(u, ifIndex)
		}
	}
	rc.Reconcile()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// A single receive thread is enough for a demo monitor, but it is
	// driven through the same receiver.Pool the library expects a
	// multi-threaded host to use (spec §4.2 "thread assignment"; §5
	// "receiver_state_deinit ... joins each thread").
	pool := receiver.NewPool(recvMgr, sacn.PeriodicInterval, log)
	pool.Spawn(ctx, rc)

	go func() {
		if err := pool.Wait(); err != nil {
			log.Warn().Err(err).Msg("receive thread pool exited with error")
		}
	}()

	model := tui.NewModel(universeManager, statsTracker)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
