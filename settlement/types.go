package settlement

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
)

// State is the coordinator's view of one order. Transitions only move
// forward.
type State uint8

const (
	Pending State = iota
	Committed
	EscrowsDeployed
	FundsLocked
	Completed
	Rescued
	Cancelled
)

var stateNames = map[State]string{
	Pending:         "pending",
	Committed:       "committed",
	EscrowsDeployed: "escrows_deployed",
	FundsLocked:     "funds_locked",
	Completed:       "completed",
	Rescued:         "rescued",
	Cancelled:       "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", s)
}

func (s State) Terminal() bool {
	return s >= Completed
}

func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown state %q", swaperr.ErrInvalidParams, name)
}

// Commitment is a resolver's pledge to fill part or all of an order.
type Commitment struct {
	OrderHash   swap.Hash
	Resolver    string
	Price       uint64
	Deposit     *uint256.Int
	FillAmount  *uint256.Int
	CommittedAt uint64
	ExpiresAt   uint64
	// DstAmount is the least the destination escrow must hold for the fill
	// at Price.
	DstAmount *uint256.Int
	// Reported is set once the resolver's escrows were accepted.
	Reported bool
	// Rescue marks a commitment taken over through Rescue.
	Rescue bool

	deposit int
}

func (c *Commitment) Expired(now uint64) bool {
	return c.ExpiresAt < now
}

func (c *Commitment) clone() *Commitment {
	if c == nil {
		return nil
	}
	out := *c
	out.Deposit = new(uint256.Int).Set(c.Deposit)
	out.FillAmount = new(uint256.Int).Set(c.FillAmount)
	out.DstAmount = new(uint256.Int).Set(c.DstAmount)
	return &out
}

// Fill is one resolver's accepted slice of an order together with the escrow
// pair that carries it.
type Fill struct {
	Resolver   string
	Amount     *uint256.Int
	Price      uint64
	SrcEscrow  escrow.ID
	DstEscrow  escrow.ID
	ReportedAt uint64

	SrcLocked    bool
	DstWithdrawn bool
	SrcCancelled bool
}

func (f Fill) clone() Fill {
	f.Amount = new(uint256.Int).Set(f.Amount)
	return f
}

// Swap is a read-only snapshot of one order's settlement.
type Swap struct {
	OrderHash  swap.Hash
	Order      swap.Order
	State      State
	Commitment *Commitment
	Fills      []Fill
	// TotalFilled is the sum of accepted fills.
	TotalFilled      *uint256.Int
	ResolverOfRecord string
	Rescuer          string
	Secret           *swap.Secret
	// Forfeited is the pot of deposits lost by resolvers whose commitments
	// expired.
	Forfeited *uint256.Int
	CreatedAt uint64
	UpdatedAt uint64
}

// Remaining is the part of the making amount no fill covers yet.
func (s *Swap) Remaining() *uint256.Int {
	if s.TotalFilled.Gt(s.Order.MakingAmount) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(s.Order.MakingAmount, s.TotalFilled)
}

// Cancellable reports whether an order that never locked user funds may be
// cancelled at now: past its deadline and without a live commitment.
func (s *Swap) Cancellable(now uint64) bool {
	if s.State >= FundsLocked {
		return false
	}
	if now < s.Order.Deadline {
		return false
	}
	return s.Commitment == nil || s.Commitment.Expired(now)
}

// RescueEligible reports whether the active commitment expired before its
// escrows were reported.
func (s *Swap) RescueEligible(now uint64) bool {
	return !s.State.Terminal() && s.Commitment != nil && !s.Commitment.Reported && s.Commitment.Expired(now)
}

type PayoutReason string

const (
	PayoutDepositRefund PayoutReason = "deposit_refund"
	PayoutForfeitReward PayoutReason = "forfeit_reward"
)

// Payout is a safety deposit movement decided by the coordinator.
type Payout struct {
	OrderHash swap.Hash
	To        string
	Token     string
	Amount    *uint256.Int
	Reason    PayoutReason
	At        uint64
}

// Transition is reported to the observer after every state change.
type Transition struct {
	OrderHash swap.Hash
	From      State
	To        State
	Actor     string
	At        uint64
}

type depositStatus uint8

const (
	depositHeld depositStatus = iota
	depositRefunded
	depositForfeited
)

type deposit struct {
	resolver string
	amount   *uint256.Int
	status   depositStatus
}

// MaxDepositBps caps the required safety deposit at 10% of the fill.
const MaxDepositBps = 1000

// AssetDecimals are the decimals of an order's source and destination
// assets.
type AssetDecimals struct {
	Src uint8
	Dst uint8
}

type Config struct {
	// CommitmentWindow is how long, in chain seconds, a commitment holds the
	// order before it can be rescued.
	CommitmentWindow uint64
	// MinDepositBps is the required deposit as basis points of the fill,
	// capped at MaxDepositBps.
	MinDepositBps uint64
	// Decimals enables price-derived destination amounts. Without it a fill
	// owes only its pro-rata share of the taking amount.
	Decimals *AssetDecimals
}

func DefaultConfig() Config {
	return Config{
		CommitmentWindow: 300,
		MinDepositBps:    100,
	}
}

func (c Config) depositBps() uint64 {
	if c.MinDepositBps > MaxDepositBps {
		return MaxDepositBps
	}
	return c.MinDepositBps
}

// RequiredDeposit is the minimum safety deposit for a fill.
func (c Config) RequiredDeposit(fill *uint256.Int) (*uint256.Int, error) {
	req, overflow := new(uint256.Int).MulDivOverflow(fill, uint256.NewInt(c.depositBps()), uint256.NewInt(10_000))
	if overflow {
		return nil, swaperr.ErrAmountOverflow
	}
	return req, nil
}

// DstAmount is what the destination escrow of a fill committed at price must
// hold: the larger of the pro-rata taking amount and, when decimals are
// configured, the fill converted at price.
func (c Config) DstAmount(o *swap.Order, fill *uint256.Int, price uint64) (*uint256.Int, error) {
	owed, err := o.TakingFor(fill)
	if err != nil {
		return nil, err
	}
	if c.Decimals == nil {
		return owed, nil
	}
	priced, _, err := auction.TokenAmounts(fill, c.Decimals.Src, c.Decimals.Dst, price)
	if err != nil {
		return nil, err
	}
	if priced.Gt(owed) {
		return priced, nil
	}
	return owed, nil
}
