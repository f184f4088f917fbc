// Package relayer runs the settlement coordinator as a service: it persists
// swaps to sqlite, exposes them over HTTP, retries collaborator failures,
// and watches active orders for rescue, lock and cancel opportunities.
package relayer

import (
	"context"
	"database/sql"
	"time"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/rs/zerolog"
)

// Clock yields the chain-local time operations are evaluated at.
type Clock interface {
	Now(ctx context.Context) uint64
}

type SystemClock struct{}

func (SystemClock) Now(context.Context) uint64 {
	return uint64(time.Now().Unix())
}

type Relayer struct {
	coord       *settlement.Coordinator
	deployer    settlement.EscrowDeployer
	broadcaster settlement.Broadcaster
	db          *sql.DB
	cfg         *Config
	clock       Clock
	metrics     *Metrics
	exec        *Executor
	logger      *zerolog.Logger
}

// NewRelayer takes over coord's observer hook; coord must not be used
// directly afterwards.
func NewRelayer(db *sql.DB, cfg *Config, coord *settlement.Coordinator, deployer settlement.EscrowDeployer, broadcaster settlement.Broadcaster, clock Clock, logger *zerolog.Logger) (*Relayer, error) {
	if err := InitDB(db); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	metrics := NewMetrics()
	r := &Relayer{
		coord:       coord,
		deployer:    deployer,
		broadcaster: broadcaster,
		db:          db,
		cfg:         cfg,
		clock:       clock,
		metrics:     metrics,
		exec:        NewExecutor(cfg.Retry, metrics, logger),
		logger:      logger,
	}
	coord.SetObserver(r.onTransition)
	return r, nil
}

func (r *Relayer) Metrics() *Metrics {
	return r.metrics
}

func (r *Relayer) Config() *Config {
	return r.cfg
}

func (r *Relayer) Now(ctx context.Context) uint64 {
	return r.clock.Now(ctx)
}

// onTransition runs under the order's lock and must not call back into the
// coordinator.
func (r *Relayer) onTransition(t settlement.Transition) {
	r.metrics.observeTransition(t)
	err := r.InsertSwapEvent(DbSwapEvent{
		OrderHash: t.OrderHash.Hex(),
		FromState: t.From.String(),
		ToState:   t.To.String(),
		Actor:     t.Actor,
		At:        t.At,
	})
	if err != nil {
		r.logger.Error().Err(err).Stringer("order", t.OrderHash).Msg("failed to insert swap event")
	}
}

// persist writes the current snapshot of an order. The coordinator stays the
// source of truth, so failures are logged and not returned.
func (r *Relayer) persist(orderHash swap.Hash) {
	s, err := r.coord.Swap(orderHash)
	if err != nil {
		r.logger.Error().Err(err).Stringer("order", orderHash).Msg("failed to read swap for persistence")
		return
	}
	hash := orderHash.Hex()

	o, err := toDbOrder(s)
	if err == nil {
		err = r.UpsertOrder(o)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("order", hash).Msg("failed to upsert order")
	}

	if c := s.Commitment; c != nil {
		err := r.InsertCommitment(DbCommitment{
			OrderHash:   hash,
			Resolver:    c.Resolver,
			Price:       c.Price,
			Deposit:     c.Deposit.Dec(),
			FillAmount:  c.FillAmount.Dec(),
			DstAmount:   c.DstAmount.Dec(),
			CommittedAt: c.CommittedAt,
			ExpiresAt:   c.ExpiresAt,
			Rescue:      c.Rescue,
		})
		if err != nil {
			r.logger.Error().Err(err).Str("order", hash).Msg("failed to insert commitment")
		}
	}

	for _, f := range s.Fills {
		err := r.InsertFill(DbFill{
			OrderHash:  hash,
			Resolver:   f.Resolver,
			Amount:     f.Amount.Dec(),
			Price:      f.Price,
			SrcEscrow:  f.SrcEscrow.Hex(),
			DstEscrow:  f.DstEscrow.Hex(),
			ReportedAt: f.ReportedAt,
		})
		if err != nil {
			r.logger.Error().Err(err).Str("order", hash).Str("resolver", f.Resolver).Msg("failed to insert fill")
		}
	}

	if !s.State.Terminal() {
		return
	}
	payouts, err := r.coord.Payouts(orderHash)
	if err != nil {
		r.logger.Error().Err(err).Str("order", hash).Msg("failed to read payouts")
		return
	}
	for _, p := range payouts {
		err := r.InsertPayout(DbPayout{
			OrderHash: hash,
			To:        p.To,
			Token:     p.Token,
			Amount:    p.Amount.Dec(),
			Reason:    string(p.Reason),
			At:        p.At,
		})
		if err != nil {
			r.logger.Error().Err(err).Str("order", hash).Msg("failed to insert payout")
		}
	}
}

func (r *Relayer) reject(op string, orderHash swap.Hash, err error) error {
	r.metrics.observeRejection(op, err)
	r.logger.Debug().Err(err).Str("op", op).Stringer("order", orderHash).Msg("operation rejected")
	return err
}

func (r *Relayer) CreateOrder(ctx context.Context, order swap.Order) (swap.Hash, error) {
	h, err := r.coord.CreateOrder(ctx, order, r.Now(ctx))
	if err != nil {
		return h, r.reject("create_order", h, err)
	}
	r.metrics.observeCreated()
	r.persist(h)
	return h, nil
}

func (r *Relayer) Commit(ctx context.Context, orderHash swap.Hash, req settlement.CommitRequest) (settlement.Commitment, error) {
	cm, err := r.coord.Commit(ctx, orderHash, req, r.Now(ctx))
	if err != nil {
		return cm, r.reject("commit", orderHash, err)
	}
	r.persist(orderHash)
	return cm, nil
}

func (r *Relayer) ReportEscrows(ctx context.Context, orderHash swap.Hash, resolver string, src, dst swap.Hash) error {
	if err := r.coord.ReportEscrowsReady(ctx, orderHash, resolver, src, dst, r.Now(ctx)); err != nil {
		return r.reject("report_escrows", orderHash, err)
	}
	r.persist(orderHash)
	return nil
}

func (r *Relayer) LockUserFunds(ctx context.Context, orderHash swap.Hash) error {
	err := r.exec.Do(ctx, "lock_funds", func(ctx context.Context) error {
		return r.coord.LockUserFunds(ctx, orderHash, r.Now(ctx), r.cfg.ConfirmationTimeoutDuration())
	})
	if err != nil {
		return r.reject("lock_funds", orderHash, err)
	}
	r.persist(orderHash)
	return nil
}

func (r *Relayer) Complete(ctx context.Context, orderHash swap.Hash, secret swap.Secret) error {
	err := r.exec.Do(ctx, "complete", func(ctx context.Context) error {
		return r.coord.Complete(ctx, orderHash, secret, r.Now(ctx), r.cfg.ConfirmationTimeoutDuration())
	})
	if err != nil {
		return r.reject("complete", orderHash, err)
	}
	r.persist(orderHash)
	return nil
}

// Rescue runs the rescue path for rescuer, deploying its escrows through
// the relayer's deployer.
func (r *Relayer) Rescue(ctx context.Context, orderHash swap.Hash, rescuer string, deposit *uint256.Int, price uint64, secret swap.Secret) error {
	resc := settlement.Rescuer{Address: rescuer, Deposit: deposit, Price: price, Deployer: r.deployer}
	err := r.coord.Rescue(ctx, orderHash, resc, secret, r.Now(ctx), r.cfg.ConfirmationTimeoutDuration())
	// a failed rescue can still have moved deposits and fills
	r.persist(orderHash)
	if err != nil {
		return r.reject("rescue", orderHash, err)
	}
	return nil
}

func (r *Relayer) Cancel(ctx context.Context, orderHash swap.Hash, caller string) error {
	err := r.exec.Do(ctx, "cancel", func(ctx context.Context) error {
		return r.coord.Cancel(ctx, orderHash, caller, r.Now(ctx), r.cfg.ConfirmationTimeoutDuration())
	})
	if err != nil {
		return r.reject("cancel", orderHash, err)
	}
	r.persist(orderHash)
	return nil
}

func (r *Relayer) Swap(orderHash swap.Hash) (settlement.Swap, error) {
	return r.coord.Swap(orderHash)
}

// Swaps lists orders, optionally only those in state.
func (r *Relayer) Swaps(state *settlement.State) []settlement.Swap {
	all := r.coord.Swaps()
	if state == nil {
		return all
	}
	out := []settlement.Swap{}
	for _, s := range all {
		if s.State == *state {
			out = append(out, s)
		}
	}
	return out
}

// Price is the auction price at at, or at the current time when at is zero.
func (r *Relayer) Price(ctx context.Context, orderHash swap.Hash, at uint64) (uint64, uint64, error) {
	if at == 0 {
		at = r.Now(ctx)
	}
	p, err := r.coord.Price(orderHash, at)
	return p, at, err
}

func (r *Relayer) Payouts(orderHash swap.Hash) ([]settlement.Payout, error) {
	return r.coord.Payouts(orderHash)
}
