package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
)

// LockUserFunds moves the maker's pre-approved asset into every source
// escrow. It requires the order to be fully filled. When a confirmation does
// not arrive the state is unchanged and the call can be repeated; escrows
// already locked are skipped.
func (c *Coordinator) LockUserFunds(ctx context.Context, orderHash swap.Hash, now uint64, timeout time.Duration) error {
	e, err := c.entry(orderHash)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return c.lock(ctx, e, now, timeout)
}

func (c *Coordinator) lock(ctx context.Context, e *orderEntry, now uint64, timeout time.Duration) error {
	if e.state != EscrowsDeployed {
		return fmt.Errorf("%w: cannot lock funds in %s", swaperr.ErrInvalidState, e.state)
	}
	if e.filled.Lt(e.order.MakingAmount) {
		return fmt.Errorf("%w: filled %s of %s", swaperr.ErrIncompleteFill, e.filled.Dec(), e.order.MakingAmount.Dec())
	}
	if a := e.active; a != nil && !a.Reported {
		return fmt.Errorf("%w: commitment of %s has no escrows yet", swaperr.ErrInvalidState, a.Resolver)
	}

	for i := range e.fills {
		f := &e.fills[i]
		if f.SrcLocked {
			continue
		}
		p := Payload{Kind: PayloadLockFunds, Escrow: f.SrcEscrow, From: e.order.Maker, Amount: cloneAmount(f.Amount)}
		if _, err := c.submit(ctx, e.order.SrcChainID, p, timeout); err != nil {
			return fmt.Errorf("failed to lock funds into %s: %w", f.SrcEscrow, err)
		}
		if _, err := c.src.Fund(f.SrcEscrow, f.Amount); err != nil {
			return err
		}
		f.SrcLocked = true
	}

	if err := c.advance(e, FundsLocked, "relayer", now); err != nil {
		return err
	}
	c.publish(ctx, Announcement{Kind: AnnounceFundsLocked, OrderHash: e.hash, State: e.state, At: now})
	return nil
}

// Complete reveals the secret: destination escrows are withdrawn to the
// maker's receiver and the secret becomes public so resolvers can claim the
// source escrows. Held deposits are refunded and any forfeited pot goes to
// the resolver of record.
func (c *Coordinator) Complete(ctx context.Context, orderHash swap.Hash, secret swap.Secret, now uint64, timeout time.Duration) error {
	e, err := c.entry(orderHash)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return c.complete(ctx, e, secret, now, timeout)
}

func (c *Coordinator) complete(ctx context.Context, e *orderEntry, secret swap.Secret, now uint64, timeout time.Duration) error {
	if e.state != FundsLocked {
		return fmt.Errorf("%w: cannot complete in %s", swaperr.ErrInvalidState, e.state)
	}
	if swap.HashSecret(secret) != e.order.Hashlock {
		return fmt.Errorf("%w: order %s", swaperr.ErrHashMismatch, e.hash)
	}

	for i := range e.fills {
		f := &e.fills[i]
		if f.DstWithdrawn {
			continue
		}
		revealed := secret
		p := Payload{Kind: PayloadWithdraw, Escrow: f.DstEscrow, From: f.Resolver, Secret: &revealed}
		r, err := c.submit(ctx, e.order.DstChainID, p, timeout)
		if err != nil {
			return fmt.Errorf("failed to withdraw %s: %w", f.DstEscrow, err)
		}
		if err := c.dst.Withdraw(f.DstEscrow, f.Resolver, secret, blockTime(r, now)); err != nil {
			// someone else may have withdrawn with the same secret already
			es, getErr := c.dst.Get(f.DstEscrow)
			if !errors.Is(err, swaperr.ErrAlreadyFinalized) || getErr != nil || es.Status != escrow.Withdrawn {
				return err
			}
		}
		f.DstWithdrawn = true
	}

	revealed := secret
	e.secret = &revealed
	c.publish(ctx, Announcement{Kind: AnnounceSecretRevealed, OrderHash: e.hash, State: e.state, Secret: &revealed, At: now})

	c.settleDeposits(e, e.resolverOfRecord, now)
	to := Completed
	if e.rescuer != "" {
		to = Rescued
	}
	return c.advance(e, to, e.resolverOfRecord, now)
}

// Rescue replaces a resolver whose commitment expired before its escrows
// were reported. The rescuer becomes resolver of record, deploys escrows for
// the remaining amount and runs the remaining steps under its own keys. On
// success the order ends Rescued and the forfeited deposits are paid to the
// rescuer. On failure the order keeps whatever progress was made and stays
// rescuable: the rescuer's commitment carries the expired deadline.
// A commitment whose escrows were reported is fulfilled and cannot be
// rescued; its order settles through Complete or Cancel.
func (c *Coordinator) Rescue(ctx context.Context, orderHash swap.Hash, r Rescuer, secret swap.Secret, now uint64, timeout time.Duration) error {
	if r.Address == "" {
		return fmt.Errorf("%w: rescuer address is required", swaperr.ErrInvalidParams)
	}
	e, err := c.entry(orderHash)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return fmt.Errorf("%w: order is %s", swaperr.ErrInvalidState, e.state)
	}
	a := e.active
	if a == nil {
		return fmt.Errorf("%w: order %s", swaperr.ErrNoCommitment, e.hash)
	}
	if a.Reported {
		return fmt.Errorf("%w: escrows of %s already reported", swaperr.ErrInvalidState, a.Resolver)
	}
	if !a.Expired(now) {
		return fmt.Errorf("%w: commitment of %s expires at %d", swaperr.ErrTooEarly, a.Resolver, a.ExpiresAt)
	}
	if swap.HashSecret(secret) != e.order.Hashlock {
		return fmt.Errorf("%w: order %s", swaperr.ErrHashMismatch, e.hash)
	}

	remaining := e.remaining()
	if r.Deployer == nil {
		return fmt.Errorf("%w: rescuer %s has no escrow deployer", swaperr.ErrInvalidParams, r.Address)
	}
	required, err := c.cfg.RequiredDeposit(remaining)
	if err != nil {
		return err
	}
	dep := cloneAmount(r.Deposit)
	if dep.Lt(required) {
		return fmt.Errorf("%w: %s below required %s", swaperr.ErrInsufficientDeposit, dep.Dec(), required.Dec())
	}
	price := r.Price
	if price == 0 {
		price = a.Price
	} else if auction.IsBetter(auction.FromOrder(&e.order), a.Price, price) {
		return fmt.Errorf("%w: %w: %d is worse than committed %d", swaperr.ErrPriceRejected, swaperr.ErrWorsePrice, price, a.Price)
	}

	owed, err := c.cfg.DstAmount(&e.order, remaining, price)
	if err != nil {
		return err
	}

	c.forfeit(e, a, now)
	rc := &Commitment{
		OrderHash:   e.hash,
		Resolver:    r.Address,
		Price:       price,
		Deposit:     dep,
		FillAmount:  remaining,
		DstAmount:   owed,
		CommittedAt: now,
		ExpiresAt:   a.ExpiresAt,
		Rescue:      true,
		deposit:     c.hold(e, r.Address, dep),
	}
	e.active = rc
	e.resolverOfRecord = r.Address
	e.rescuer = r.Address
	e.updatedAt = now

	c.logger.Warn().
		Stringer("order", e.hash).
		Str("rescuer", r.Address).
		Str("replaced", a.Resolver).
		Stringer("state", e.state).
		Str("remaining", remaining.Dec()).
		Str("pot", e.pot.Dec()).
		Msg("rescue started")

	d, err := r.Deployer.DeployEscrows(ctx, &e.order, r.Address, remaining, owed, dep, now)
	if err != nil {
		return fmt.Errorf("rescuer failed to deploy escrows: %w", err)
	}
	if err := c.report(ctx, e, r.Address, d, now); err != nil {
		return err
	}
	if e.state == EscrowsDeployed {
		if err := c.lock(ctx, e, now, timeout); err != nil {
			return err
		}
	}
	if err := c.complete(ctx, e, secret, now, timeout); err != nil {
		return err
	}

	c.publish(ctx, Announcement{Kind: AnnounceRescued, OrderHash: e.hash, State: e.state, Resolver: r.Address, At: now})
	return nil
}

// Cancel ends an order that can no longer settle. Before funds are locked it
// needs the order deadline to have passed with no live commitment. Once
// funds are locked it needs every source escrow to be cancellable by caller,
// and cancels the escrows. The forfeited pot goes to caller, held deposits
// are refunded.
func (c *Coordinator) Cancel(ctx context.Context, orderHash swap.Hash, caller string, now uint64, timeout time.Duration) error {
	if caller == "" {
		return fmt.Errorf("%w: caller is required", swaperr.ErrInvalidParams)
	}
	e, err := c.entry(orderHash)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return fmt.Errorf("%w: order is %s", swaperr.ErrInvalidState, e.state)
	}

	if e.state < FundsLocked {
		if now < e.order.Deadline {
			return fmt.Errorf("%w: order deadline is %d", swaperr.ErrTooEarly, e.order.Deadline)
		}
		if a := e.active; a != nil {
			if !a.Expired(now) {
				return fmt.Errorf("%w: commitment of %s live until %d", swaperr.ErrTooEarly, a.Resolver, a.ExpiresAt)
			}
			// a reported commitment did its part and gets its deposit back
			if !a.Reported {
				c.forfeit(e, a, now)
			}
		}
	} else if err := c.cancelEscrows(ctx, e, caller, now, timeout); err != nil {
		return err
	}

	c.settleDeposits(e, caller, now)
	if err := c.advance(e, Cancelled, caller, now); err != nil {
		return err
	}
	c.publish(ctx, Announcement{Kind: AnnounceCancelled, OrderHash: e.hash, State: e.state, Resolver: caller, At: now})
	return nil
}

func (c *Coordinator) cancelEscrows(ctx context.Context, e *orderEntry, caller string, now uint64, timeout time.Duration) error {
	// check every source escrow first so a cancel never stops halfway on a
	// timing error
	for _, f := range e.fills {
		if f.SrcCancelled {
			continue
		}
		es, err := c.src.Get(f.SrcEscrow)
		if err != nil {
			return err
		}
		if es.Status.Terminal() {
			continue
		}
		w := es.Window()
		if now < w.Cancellation {
			return fmt.Errorf("%w: source escrow %s cancellable at %d", swaperr.ErrTooEarly, es.ID, w.Cancellation)
		}
		if caller != es.Immutables.Taker && now < w.PublicCancellation {
			return fmt.Errorf("%w: source escrow %s public cancellation at %d", swaperr.ErrTooEarly, es.ID, w.PublicCancellation)
		}
	}

	for i := range e.fills {
		f := &e.fills[i]
		if !f.SrcCancelled {
			if err := c.cancelEscrow(ctx, c.src, e.order.SrcChainID, f.SrcEscrow, caller, now, timeout); err != nil {
				return err
			}
			f.SrcCancelled = true
		}
		if !f.DstWithdrawn {
			// the resolver can still reclaim its destination escrow itself
			if err := c.cancelEscrow(ctx, c.dst, e.order.DstChainID, f.DstEscrow, caller, now, timeout); err != nil {
				c.logger.Warn().Err(err).
					Stringer("order", e.hash).
					Stringer("escrow", f.DstEscrow).
					Msg("destination escrow not cancelled")
			}
		}
	}
	return nil
}

func (c *Coordinator) cancelEscrow(ctx context.Context, l *escrow.Ledger, chainID uint64, id escrow.ID, caller string, now uint64, timeout time.Duration) error {
	es, err := l.Get(id)
	if err != nil {
		return err
	}
	if es.Status.Terminal() {
		return nil
	}
	r, err := c.submit(ctx, chainID, Payload{Kind: PayloadCancel, Escrow: id, From: caller}, timeout)
	if err != nil {
		return fmt.Errorf("failed to cancel %s: %w", id, err)
	}
	return l.Cancel(id, caller, blockTime(r, now))
}

// blockTime is the time escrow rules are evaluated at: the confirming
// block's timestamp when the chain reports a later one than now.
func blockTime(r Receipt, now uint64) uint64 {
	if r.Time > now {
		return r.Time
	}
	return now
}
