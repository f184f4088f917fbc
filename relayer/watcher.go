package relayer

import (
	"context"
	"sync"

	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Watcher drives orders that need the relayer to act without a request:
// locking user funds once an order is fully filled, cancelling orders past
// their deadline, and announcing expired commitments to rescuers.
type Watcher struct {
	relayer *Relayer
	workers int
	logger  *zerolog.Logger

	mu        sync.Mutex
	announced map[swap.Hash]uint64
}

func NewWatcher(r *Relayer, workers int, logger *zerolog.Logger) *Watcher {
	if workers <= 0 {
		workers = 1
	}
	return &Watcher{
		relayer:   r,
		workers:   workers,
		logger:    logger,
		announced: map[swap.Hash]uint64{},
	}
}

// Scan checks every active order once.
func (w *Watcher) Scan(ctx context.Context) error {
	now := w.relayer.Now(ctx)
	active := w.relayer.coord.Active()
	w.logger.Debug().Int("active", len(active)).Uint64("now", now).Msg("scanning orders")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for _, s := range active {
		s := s
		g.Go(func() error {
			w.check(ctx, s, now)
			return ctx.Err()
		})
	}
	err := g.Wait()
	w.prune(active)
	return err
}

// prune forgets announcements of orders that are no longer active.
func (w *Watcher) prune(active []settlement.Swap) {
	keep := make(map[swap.Hash]struct{}, len(active))
	for _, s := range active {
		keep[s.OrderHash] = struct{}{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for h := range w.announced {
		if _, ok := keep[h]; !ok {
			delete(w.announced, h)
		}
	}
}

func (w *Watcher) check(ctx context.Context, s settlement.Swap, now uint64) {
	log := w.logger.With().Stringer("order", s.OrderHash).Stringer("state", s.State).Logger()

	switch {
	case s.State == settlement.EscrowsDeployed && s.Remaining().IsZero() &&
		(s.Commitment == nil || s.Commitment.Reported):
		if err := w.relayer.LockUserFunds(ctx, s.OrderHash); err != nil {
			log.Warn().Err(err).Msg("failed to lock user funds")
			return
		}
		log.Info().Msg("user funds locked")

	case s.Cancellable(now):
		if err := w.relayer.Cancel(ctx, s.OrderHash, w.relayer.cfg.Address); err != nil {
			log.Warn().Err(err).Msg("failed to cancel expired order")
			return
		}
		log.Info().Msg("expired order cancelled")

	case s.RescueEligible(now):
		w.announceRescue(ctx, s, now)
	}
}

// announceRescue announces each expired commitment once.
func (w *Watcher) announceRescue(ctx context.Context, s settlement.Swap, now uint64) {
	expiresAt := s.Commitment.ExpiresAt
	w.mu.Lock()
	if w.announced[s.OrderHash] == expiresAt {
		w.mu.Unlock()
		return
	}
	w.announced[s.OrderHash] = expiresAt
	w.mu.Unlock()

	w.relayer.metrics.announced.Inc()
	w.logger.Info().
		Stringer("order", s.OrderHash).
		Str("resolver", s.Commitment.Resolver).
		Uint64("expired_at", expiresAt).
		Msg("commitment expired - rescue available")

	if w.relayer.broadcaster == nil {
		return
	}
	err := w.relayer.broadcaster.Publish(ctx, settlement.Announcement{
		Kind:      settlement.AnnounceRescueAvailable,
		OrderHash: s.OrderHash,
		State:     s.State,
		Resolver:  s.Commitment.Resolver,
		At:        now,
	})
	if err != nil {
		w.logger.Warn().Err(err).Stringer("order", s.OrderHash).Msg("failed to publish rescue announcement")
	}
}
