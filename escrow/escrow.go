// Package escrow implements the hash-time-locked escrow ledger. One Ledger
// models the escrows of one chain side; the source and destination escrows
// of a fill live in different ledgers because they live on different chains.
package escrow

import (
	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/timelock"
)

// NativeToken is the asset safety deposits are posted in.
const NativeToken = "native"

// ID identifies an escrow. It is the hash of its immutables, deployedAt
// included.
type ID = swap.Hash

type Side uint8

const (
	Source Side = iota
	Destination
)

func (s Side) String() string {
	if s == Destination {
		return "destination"
	}
	return "source"
}

type Status uint8

const (
	Created Status = iota
	Funded
	Withdrawn
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Funded:
		return "funded"
	case Withdrawn:
		return "withdrawn"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s Status) Terminal() bool {
	return s == Withdrawn || s == Cancelled
}

type Escrow struct {
	ID         ID
	Side       Side
	Immutables swap.Immutables
	Status     Status
	// Balance is the deposited amount of Immutables.Token.
	Balance     *uint256.Int
	Deadlines   timelock.Deadlines
	FinalizedAt uint64
	FinalizedBy string
	// Secret is set once a withdrawal revealed it.
	Secret *swap.Secret
}

// Window returns the deadlines that apply to this escrow's side.
func (e *Escrow) Window() timelock.Window {
	if e.Side == Destination {
		return e.Deadlines.Dst()
	}
	return e.Deadlines.Src()
}

// beneficiary receives Amount on withdrawal: the resolver on the source
// chain, the maker's receiver on the destination chain.
func (e *Escrow) beneficiary() string {
	if e.Side == Destination {
		return e.Immutables.Maker
	}
	return e.Immutables.Taker
}

// depositor funded the escrow and gets it back on cancellation.
func (e *Escrow) depositor() string {
	if e.Side == Destination {
		return e.Immutables.Taker
	}
	return e.Immutables.Maker
}

func (e *Escrow) clone() Escrow {
	out := *e
	out.Immutables = e.Immutables.Clone()
	out.Balance = new(uint256.Int).Set(e.Balance)
	if e.Secret != nil {
		s := *e.Secret
		out.Secret = &s
	}
	return out
}

type PayoutKind string

const (
	PayoutWithdrawal    PayoutKind = "withdrawal"
	PayoutRefund        PayoutKind = "refund"
	PayoutSafetyDeposit PayoutKind = "safety_deposit"
)

// Payout is one asset movement out of an escrow.
type Payout struct {
	EscrowID  ID
	OrderHash swap.Hash
	Side      Side
	Kind      PayoutKind
	To        string
	Token     string
	Amount    *uint256.Int
	At        uint64
}
