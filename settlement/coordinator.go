// Package settlement drives the relayer side of a cross-chain swap: order
// intake, resolver commitments, escrow readiness, user fund locking, secret
// revelation, and the rescue and cancel escape hatches.
package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/rs/zerolog"
)

// CommitRequest is a resolver's bid. A nil FillAmount takes the whole
// remaining amount.
type CommitRequest struct {
	Resolver   string
	Price      uint64
	Deposit    *uint256.Int
	FillAmount *uint256.Int
}

type orderEntry struct {
	mu sync.Mutex

	hash   swap.Hash
	order  swap.Order
	state  State
	active *Commitment
	fills  []Fill
	filled *uint256.Int

	resolverOfRecord string
	rescuer          string
	secret           *swap.Secret

	deposits []*deposit
	pot      *uint256.Int
	payouts  []Payout

	createdAt uint64
	updatedAt uint64
}

func (e *orderEntry) remaining() *uint256.Int {
	if e.filled.Gt(e.order.MakingAmount) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(e.order.MakingAmount, e.filled)
}

// Coordinator owns commitments and swap state; the ledgers own escrows.
// Operations on one order are serialized by that order's mutex, operations
// on different orders run in parallel.
type Coordinator struct {
	cfg         Config
	src         *escrow.Ledger
	dst         *escrow.Ledger
	chain       Chain
	broadcaster Broadcaster
	logger      *zerolog.Logger
	observer    func(Transition)

	mu     sync.RWMutex
	orders map[swap.Hash]*orderEntry
}

func NewCoordinator(cfg Config, src, dst *escrow.Ledger, chain Chain, broadcaster Broadcaster, logger *zerolog.Logger) *Coordinator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Coordinator{
		cfg:         cfg,
		src:         src,
		dst:         dst,
		chain:       chain,
		broadcaster: broadcaster,
		logger:      logger,
		orders:      map[swap.Hash]*orderEntry{},
	}
}

// SetObserver registers fn to be called after every state transition, with
// the order's lock held. It must be set before the coordinator is used.
func (c *Coordinator) SetObserver(fn func(Transition)) {
	c.observer = fn
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) Ledgers() (src, dst *escrow.Ledger) {
	return c.src, c.dst
}

func (c *Coordinator) entry(orderHash swap.Hash) (*orderEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.orders[orderHash]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", swaperr.ErrNotFound, orderHash)
	}
	return e, nil
}

func (c *Coordinator) entries() []*orderEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*orderEntry, 0, len(c.orders))
	for _, e := range c.orders {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt != out[j].createdAt {
			return out[i].createdAt < out[j].createdAt
		}
		return out[i].hash.Hex() < out[j].hash.Hex()
	})
	return out
}

func (c *Coordinator) advance(e *orderEntry, to State, actor string, now uint64) error {
	if e.state.Terminal() || to <= e.state {
		return fmt.Errorf("%w: %s -> %s", swaperr.ErrInvalidState, e.state, to)
	}
	from := e.state
	e.state = to
	e.updatedAt = now

	c.logger.Info().
		Stringer("order", e.hash).
		Stringer("from", from).
		Stringer("to", to).
		Str("actor", actor).
		Msg("swap state changed")
	if c.observer != nil {
		c.observer(Transition{OrderHash: e.hash, From: from, To: to, Actor: actor, At: now})
	}
	return nil
}

// publish is best effort: a lost announcement never blocks settlement.
func (c *Coordinator) publish(ctx context.Context, a Announcement) {
	if c.broadcaster == nil {
		return
	}
	if err := c.broadcaster.Publish(ctx, a); err != nil {
		c.logger.Warn().Err(err).
			Str("kind", string(a.Kind)).
			Stringer("order", a.OrderHash).
			Msg("failed to publish announcement")
	}
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func cloneOrder(o swap.Order) swap.Order {
	o.Salt = cloneAmount(o.Salt)
	o.MakingAmount = cloneAmount(o.MakingAmount)
	o.TakingAmount = cloneAmount(o.TakingAmount)
	return o
}

// CreateOrder registers a new order in Pending and broadcasts it.
func (c *Coordinator) CreateOrder(ctx context.Context, order swap.Order, now uint64) (swap.Hash, error) {
	if err := order.Validate(); err != nil {
		return swap.Hash{}, err
	}
	if order.Deadline <= now {
		return swap.Hash{}, fmt.Errorf("%w: deadline %d is not after %d", swaperr.ErrOrderExpired, order.Deadline, now)
	}

	order = cloneOrder(order)
	hash := order.Hash()

	c.mu.Lock()
	if _, ok := c.orders[hash]; ok {
		c.mu.Unlock()
		return swap.Hash{}, fmt.Errorf("%w: %s", swaperr.ErrDuplicateOrder, hash)
	}
	c.orders[hash] = &orderEntry{
		hash:      hash,
		order:     order,
		state:     Pending,
		filled:    new(uint256.Int),
		pot:       new(uint256.Int),
		createdAt: now,
		updatedAt: now,
	}
	c.mu.Unlock()

	c.logger.Info().
		Stringer("order", hash).
		Str("maker", order.Maker).
		Str("making_amount", order.MakingAmount.Dec()).
		Uint64("src_chain", order.SrcChainID).
		Uint64("dst_chain", order.DstChainID).
		Msg("order created")

	announced := cloneOrder(order)
	c.publish(ctx, Announcement{Kind: AnnounceOrderCreated, OrderHash: hash, State: Pending, Order: &announced, At: now})
	return hash, nil
}

// Commit takes the order's commitment slot for a resolver. The slot is free
// when no commitment exists or the existing one expired; an expired
// commitment's deposit is forfeited.
func (c *Coordinator) Commit(ctx context.Context, orderHash swap.Hash, req CommitRequest, now uint64) (Commitment, error) {
	if req.Resolver == "" {
		return Commitment{}, fmt.Errorf("%w: resolver is required", swaperr.ErrInvalidParams)
	}
	e, err := c.entry(orderHash)
	if err != nil {
		return Commitment{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state >= FundsLocked {
		return Commitment{}, fmt.Errorf("%w: cannot commit in %s", swaperr.ErrInvalidState, e.state)
	}
	if now >= e.order.Deadline {
		return Commitment{}, fmt.Errorf("%w: deadline was %d", swaperr.ErrOrderExpired, e.order.Deadline)
	}
	if a := e.active; a != nil && !a.Expired(now) {
		return Commitment{}, fmt.Errorf("%w: held by %s until %d", swaperr.ErrAlreadyCommitted, a.Resolver, a.ExpiresAt)
	}
	if err := auction.ValidateResolverPrice(auction.FromOrder(&e.order), req.Price, now); err != nil {
		return Commitment{}, fmt.Errorf("%w: %w", swaperr.ErrPriceRejected, err)
	}

	remaining := e.remaining()
	fill := remaining
	if req.FillAmount != nil && !req.FillAmount.IsZero() {
		fill = new(uint256.Int).Set(req.FillAmount)
	}
	if remaining.IsZero() || fill.Gt(remaining) {
		return Commitment{}, fmt.Errorf("%w: fill %s, remaining %s", swaperr.ErrOverfill, fill.Dec(), remaining.Dec())
	}

	required, err := c.cfg.RequiredDeposit(fill)
	if err != nil {
		return Commitment{}, err
	}
	dep := cloneAmount(req.Deposit)
	if dep.Lt(required) {
		return Commitment{}, fmt.Errorf("%w: %s below required %s", swaperr.ErrInsufficientDeposit, dep.Dec(), required.Dec())
	}
	owed, err := c.cfg.DstAmount(&e.order, fill, req.Price)
	if err != nil {
		return Commitment{}, err
	}

	if e.active != nil {
		c.forfeit(e, e.active, now)
	}
	cm := &Commitment{
		OrderHash:   orderHash,
		Resolver:    req.Resolver,
		Price:       req.Price,
		Deposit:     dep,
		FillAmount:  fill,
		DstAmount:   owed,
		CommittedAt: now,
		ExpiresAt:   now + c.cfg.CommitmentWindow,
		deposit:     c.hold(e, req.Resolver, dep),
	}
	e.active = cm
	e.resolverOfRecord = req.Resolver

	if e.state == Pending {
		if err := c.advance(e, Committed, req.Resolver, now); err != nil {
			return Commitment{}, err
		}
	} else {
		e.updatedAt = now
	}

	c.logger.Info().
		Stringer("order", orderHash).
		Str("resolver", req.Resolver).
		Uint64("price", req.Price).
		Str("fill", fill.Dec()).
		Str("dst_amount", owed.Dec()).
		Uint64("expires_at", cm.ExpiresAt).
		Msg("commitment accepted")
	c.publish(ctx, Announcement{Kind: AnnounceCommitted, OrderHash: orderHash, State: e.state, Resolver: req.Resolver, At: now})
	return *cm.clone(), nil
}

func (c *Coordinator) hold(e *orderEntry, resolver string, amount *uint256.Int) int {
	e.deposits = append(e.deposits, &deposit{resolver: resolver, amount: amount, status: depositHeld})
	return len(e.deposits) - 1
}

// forfeit moves the deposit of an expired commitment into the pot and frees
// the slot.
func (c *Coordinator) forfeit(e *orderEntry, cm *Commitment, now uint64) {
	d := e.deposits[cm.deposit]
	if d.status == depositHeld {
		d.status = depositForfeited
		e.pot.Add(e.pot, d.amount)
		c.logger.Warn().
			Stringer("order", e.hash).
			Str("resolver", cm.Resolver).
			Str("deposit", d.amount.Dec()).
			Uint64("expired_at", cm.ExpiresAt).
			Uint64("now", now).
			Msg("commitment expired - deposit forfeited")
	}
	if e.active == cm {
		e.active = nil
	}
}

// settleDeposits refunds every held deposit and pays the forfeited pot to
// potTo.
func (c *Coordinator) settleDeposits(e *orderEntry, potTo string, now uint64) {
	for _, d := range e.deposits {
		if d.status != depositHeld {
			continue
		}
		d.status = depositRefunded
		if !d.amount.IsZero() {
			e.payouts = append(e.payouts, Payout{
				OrderHash: e.hash, To: d.resolver, Token: escrow.NativeToken,
				Amount: cloneAmount(d.amount), Reason: PayoutDepositRefund, At: now,
			})
		}
	}
	if !e.pot.IsZero() && potTo != "" {
		e.payouts = append(e.payouts, Payout{
			OrderHash: e.hash, To: potTo, Token: escrow.NativeToken,
			Amount: cloneAmount(e.pot), Reason: PayoutForfeitReward, At: now,
		})
		e.pot = new(uint256.Int)
	}
}

// ReportEscrowsReady accepts the committed resolver's escrow pair once both
// escrows match the order and the destination escrow is funded on chain.
// A fill that leaves part of the order open frees the slot for the next
// resolver.
func (c *Coordinator) ReportEscrowsReady(ctx context.Context, orderHash swap.Hash, resolver string, srcID, dstID escrow.ID, now uint64) error {
	e, err := c.entry(orderHash)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return c.report(ctx, e, resolver, Deployment{Src: srcID, Dst: dstID}, now)
}

func (c *Coordinator) report(ctx context.Context, e *orderEntry, resolver string, dep Deployment, now uint64) error {
	if e.state != Committed && e.state != EscrowsDeployed {
		return fmt.Errorf("%w: cannot report escrows in %s", swaperr.ErrInvalidState, e.state)
	}
	a := e.active
	if a == nil {
		return fmt.Errorf("%w: order %s", swaperr.ErrNoCommitment, e.hash)
	}
	if a.Resolver != resolver {
		return fmt.Errorf("%w: %s is not the committed resolver", swaperr.ErrUnauthorized, resolver)
	}
	if a.Reported {
		return fmt.Errorf("%w: escrows of %s already reported", swaperr.ErrInvalidState, resolver)
	}

	src, err := c.src.Get(dep.Src)
	if err != nil {
		return err
	}
	dst, err := c.dst.Get(dep.Dst)
	if err != nil {
		return err
	}
	if err := c.verifyEscrows(e, a, src, dst); err != nil {
		return err
	}

	bal, err := c.chain.ReadEscrowBalance(ctx, e.order.DstChainID, dep.Dst)
	if err != nil {
		return fmt.Errorf("failed to read destination escrow %s: %w", dep.Dst, err)
	}
	status, err := c.dst.Sync(dep.Dst, bal)
	if err != nil {
		return err
	}
	if status != escrow.Funded {
		return fmt.Errorf("%w: destination escrow %s is %s", swaperr.ErrNotFunded, dep.Dst, status)
	}

	e.fills = append(e.fills, Fill{
		Resolver:   resolver,
		Amount:     cloneAmount(a.FillAmount),
		Price:      a.Price,
		SrcEscrow:  dep.Src,
		DstEscrow:  dep.Dst,
		ReportedAt: now,
	})
	e.filled.Add(e.filled, a.FillAmount)
	a.Reported = true
	if e.filled.Lt(e.order.MakingAmount) {
		e.active = nil
	}

	if e.state == Committed {
		if err := c.advance(e, EscrowsDeployed, resolver, now); err != nil {
			return err
		}
	} else {
		e.updatedAt = now
	}

	c.logger.Info().
		Stringer("order", e.hash).
		Str("resolver", resolver).
		Str("fill", a.FillAmount.Dec()).
		Str("total_filled", e.filled.Dec()).
		Str("making_amount", e.order.MakingAmount.Dec()).
		Msg("escrows ready")
	c.publish(ctx, Announcement{Kind: AnnounceFillReported, OrderHash: e.hash, State: e.state, Resolver: resolver, At: now})
	return nil
}

func (c *Coordinator) verifyEscrows(e *orderEntry, a *Commitment, src, dst escrow.Escrow) error {
	o := &e.order
	check := func(es escrow.Escrow, maker, token string) error {
		im := es.Immutables
		field := ""
		switch {
		case im.OrderHash != e.hash:
			field = "order hash"
		case im.Hashlock != o.Hashlock:
			field = "hashlock"
		case im.Taker != a.Resolver:
			field = "taker"
		case im.Maker != maker:
			field = "maker"
		case im.Token != token:
			field = "token"
		case im.Timelocks.Durations() != o.Timelocks:
			field = "timelocks"
		}
		if field != "" {
			return fmt.Errorf("%w: %s escrow %s has wrong %s", swaperr.ErrInvalidImmutables, es.Side, es.ID, field)
		}
		if es.Status.Terminal() {
			return fmt.Errorf("%w: %s escrow %s is %s", swaperr.ErrAlreadyFinalized, es.Side, es.ID, es.Status)
		}
		return nil
	}

	if err := check(src, o.Maker, o.MakerAsset); err != nil {
		return err
	}
	if !src.Immutables.Amount.Eq(a.FillAmount) {
		return fmt.Errorf("%w: source escrow amount %s, committed fill %s",
			swaperr.ErrInvalidImmutables, src.Immutables.Amount.Dec(), a.FillAmount.Dec())
	}

	if err := check(dst, o.EffectiveReceiver(), o.TakerAsset); err != nil {
		return err
	}
	if dst.Immutables.Amount.Lt(a.DstAmount) {
		return fmt.Errorf("%w: destination escrow amount %s below owed %s at price %d",
			swaperr.ErrInvalidImmutables, dst.Immutables.Amount.Dec(), a.DstAmount.Dec(), a.Price)
	}
	return nil
}

// submit sends one payload and waits for its confirmation.
func (c *Coordinator) submit(ctx context.Context, chainID uint64, p Payload, timeout time.Duration) (Receipt, error) {
	h, err := c.chain.SubmitTransaction(ctx, chainID, p)
	if err != nil {
		return Receipt{}, err
	}
	r, err := c.chain.AwaitConfirmation(ctx, h, timeout)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("tx", h.ID).
			Uint64("chain", chainID).
			Str("kind", string(p.Kind)).
			Stringer("escrow", p.Escrow).
			Msg("transaction not confirmed")
		return Receipt{}, err
	}
	c.logger.Debug().
		Str("tx", h.ID).
		Uint64("chain", chainID).
		Uint64("block", r.Block).
		Str("kind", string(p.Kind)).
		Msg("transaction confirmed")
	return r, nil
}

func (e *orderEntry) snapshot() Swap {
	s := Swap{
		OrderHash:        e.hash,
		Order:            cloneOrder(e.order),
		State:            e.state,
		Commitment:       e.active.clone(),
		Fills:            make([]Fill, 0, len(e.fills)),
		TotalFilled:      cloneAmount(e.filled),
		ResolverOfRecord: e.resolverOfRecord,
		Rescuer:          e.rescuer,
		Forfeited:        cloneAmount(e.pot),
		CreatedAt:        e.createdAt,
		UpdatedAt:        e.updatedAt,
	}
	for _, f := range e.fills {
		s.Fills = append(s.Fills, f.clone())
	}
	if e.secret != nil {
		secret := *e.secret
		s.Secret = &secret
	}
	return s
}

func (c *Coordinator) Swap(orderHash swap.Hash) (Swap, error) {
	e, err := c.entry(orderHash)
	if err != nil {
		return Swap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// Swaps returns every order, oldest first.
func (c *Coordinator) Swaps() []Swap {
	entries := c.entries()
	out := make([]Swap, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshot())
		e.mu.Unlock()
	}
	return out
}

// Active returns the orders not yet in a terminal state.
func (c *Coordinator) Active() []Swap {
	out := []Swap{}
	for _, s := range c.Swaps() {
		if !s.State.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// Expired lists orders whose active commitment expired: rescue candidates.
func (c *Coordinator) Expired(now uint64) []swap.Hash {
	out := []swap.Hash{}
	for _, s := range c.Swaps() {
		if s.RescueEligible(now) {
			out = append(out, s.OrderHash)
		}
	}
	return out
}

func (c *Coordinator) Payouts(orderHash swap.Hash) ([]Payout, error) {
	e, err := c.entry(orderHash)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Payout, len(e.payouts))
	for i, p := range e.payouts {
		p.Amount = cloneAmount(p.Amount)
		out[i] = p
	}
	return out, nil
}

func (c *Coordinator) RevealedSecret(orderHash swap.Hash) (swap.Secret, bool) {
	e, err := c.entry(orderHash)
	if err != nil {
		return swap.Secret{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.secret == nil {
		return swap.Secret{}, false
	}
	return *e.secret, true
}

// Price is the order's auction price at now.
func (c *Coordinator) Price(orderHash swap.Hash, now uint64) (uint64, error) {
	e, err := c.entry(orderHash)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return auction.CurrentPrice(auction.FromOrder(&e.order), now), nil
}
