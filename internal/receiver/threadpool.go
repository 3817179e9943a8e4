package receiver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tuhis/go-sacn/internal/sacn"
	"github.com/Tuhis/go-sacn/internal/sacnnet"
)

// Pool runs one goroutine per sacnnet.ReceiveContext ("receive thread" in
// spec §4.2/§5), each executing the thread main loop: reconcile
// subscriptions, blocking read, dispatch, periodic tick. Threads are
// load-balanced onto contexts by the caller at assignment time (spec
// §4.2 "assigned to a receive thread with lowest load"); Pool only owns
// their lifecycle.
//
// Shutdown mirrors receiver_state_deinit (spec §5): canceling ctx makes
// every thread return from its next blocking Read, after which Wait
// joins them all before the caller closes sockets.
type Pool struct {
	mgr     *Manager
	eg      *errgroup.Group
	log     zerolog.Logger
	tickInt time.Duration
}

// NewPool creates a thread pool dispatching into mgr. tickInterval
// defaults to sacn.PeriodicInterval when zero.
func NewPool(mgr *Manager, tickInterval time.Duration, log zerolog.Logger) *Pool {
	if tickInterval <= 0 {
		tickInterval = sacn.PeriodicInterval
	}
	return &Pool{mgr: mgr, eg: &errgroup.Group{}, log: log.With().Str("component", "receiver.pool").Logger(), tickInt: tickInterval}
}

// Spawn starts one receive thread bound to rc. It runs until ctx is
// canceled, at which point it returns nil so errgroup.Wait does not treat
// a clean shutdown as a pool failure.
func (p *Pool) Spawn(ctx context.Context, rc *sacnnet.ReceiveContext) {
	p.eg.Go(func() error {
		ticker := time.NewTicker(p.tickInt)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				p.mgr.Tick(time.Now())
			default:
			}

			rc.Reconcile()

			res, err := rc.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, sacnnet.ErrTimedOut) {
					continue
				}
				p.log.Warn().Err(err).Msg("receive thread read error")
				continue
			}
			p.mgr.Dispatch(res.Data, res.IfIndex, time.Now())
		}
	})
}

// Wait blocks until every spawned thread has returned, joining them the
// way receiver_state_deinit joins each receive thread under the lock
// (spec §5 "Cancellation / shutdown").
func (p *Pool) Wait() error {
	return p.eg.Wait()
}
