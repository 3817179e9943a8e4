package source

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tuhis/go-sacn/internal/sacn"
)

// Runner is the single writer thread from spec §4.4/§5: it wakes every
// sacn.SourceThreadInterval and calls Tick on every thread-based Source it
// owns. Sources configured with ManuallyProcessSource are never ticked
// here; the application drives them directly via Source.ProcessManual.
type Runner struct {
	mu      sync.Mutex
	sources []*Source
	log     zerolog.Logger
}

// NewRunner creates an empty writer-thread runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log.With().Str("component", "source.runner").Logger()}
}

// Add registers a thread-based source to be ticked by Run.
func (r *Runner) Add(s *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// Run is the writer thread's main loop (spec §5 "source thread sleeps
// between ticks with lock released"). It ticks every source on every
// sacn.SourceThreadInterval until ctx is canceled, at which point it
// mirrors source_state_deinit: every owned source is asked to terminate,
// and the loop keeps ticking so termination packets finish transmitting,
// until all of them report Done, then returns.
func (r *Runner) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		ticker := time.NewTicker(sacn.SourceThreadInterval)
		defer ticker.Stop()

		shuttingDown := false
		for {
			if shuttingDown {
				<-ticker.C
			} else {
				select {
				case <-egCtx.Done():
					shuttingDown = true
				case <-ticker.C:
				}
			}

			r.mu.Lock()
			sources := append([]*Source(nil), r.sources...)
			r.mu.Unlock()

			now := time.Now()
			allDone := true
			for _, s := range sources {
				if shuttingDown {
					s.Terminate()
				}
				s.Tick(now)
				if !s.Done() {
					allDone = false
				}
			}

			if shuttingDown && allDone {
				return nil
			}
		}
	})
	return eg.Wait()
}
