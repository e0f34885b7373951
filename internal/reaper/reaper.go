// Package reaper runs the periodic maintenance loops: sweeping stale
// connection records whose owner vanished without unregistering, and
// claiming stream messages stuck pending on dead consumers.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StaleSweeper removes connection records idle past maxAge.
type StaleSweeper interface {
	CleanupStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// PendingClaimer re-claims stream messages left pending by dead consumers.
type PendingClaimer interface {
	ClaimPending(ctx context.Context, consumer string) (int, error)
}

// Config holds the reaper intervals.
type Config struct {
	// Consumer is the stream consumer name claimed messages are
	// reassigned to.
	Consumer string
	// SweepEvery is the stale connection sweep interval.
	SweepEvery time.Duration
	// StaleMaxAge is how long a connection may sit without activity
	// before the sweep removes it.
	StaleMaxAge time.Duration
	// ReclaimEvery is the pending message reclaim interval.
	ReclaimEvery time.Duration
}

// Reaper owns the maintenance tickers.
type Reaper struct {
	sweeper StaleSweeper
	claimer PendingClaimer
	cfg     Config
}

// New creates a Reaper. Either collaborator may be nil to disable that
// loop.
func New(sweeper StaleSweeper, claimer PendingClaimer, cfg Config) *Reaper {
	return &Reaper{
		sweeper: sweeper,
		claimer: claimer,
		cfg:     cfg,
	}
}

// Run drives both loops until ctx is cancelled. Individual failures are
// logged and retried on the next tick; they never stop the loops.
func (r *Reaper) Run(ctx context.Context) error {
	sweep := time.NewTicker(r.cfg.SweepEvery)
	defer sweep.Stop()
	reclaim := time.NewTicker(r.cfg.ReclaimEvery)
	defer reclaim.Stop()

	log.Info().
		Dur("sweep_every", r.cfg.SweepEvery).
		Dur("reclaim_every", r.cfg.ReclaimEvery).
		Msg("Maintenance loops started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Maintenance loops stopped")
			return ctx.Err()

		case <-sweep.C:
			r.sweepOnce(ctx)

		case <-reclaim.C:
			r.reclaimOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	if r.sweeper == nil {
		return
	}
	removed, err := r.sweeper.CleanupStale(ctx, r.cfg.StaleMaxAge)
	if err != nil {
		log.Error().Err(err).Msg("Stale connection sweep failed")
		return
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Swept stale connections")
	}
}

func (r *Reaper) reclaimOnce(ctx context.Context) {
	if r.claimer == nil {
		return
	}
	claimed, err := r.claimer.ClaimPending(ctx, r.cfg.Consumer)
	if err != nil {
		log.Error().Err(err).Msg("Pending message reclaim failed")
		return
	}
	if claimed > 0 {
		log.Info().Int("claimed", claimed).Msg("Reclaimed pending stream messages")
	}
}
