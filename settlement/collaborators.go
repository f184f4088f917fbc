package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/swap"
)

var (
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrTxReverted          = errors.New("transaction reverted")
)

type PayloadKind string

const (
	PayloadLockFunds PayloadKind = "lock_funds"
	PayloadWithdraw  PayloadKind = "withdraw"
	PayloadCancel    PayloadKind = "cancel"
)

// Payload is a chain-agnostic description of an escrow call. Encoding it
// into a chain's transaction format is the Chain implementation's job.
type Payload struct {
	Kind   PayloadKind
	Escrow escrow.ID
	From   string
	Amount *uint256.Int
	Secret *swap.Secret
}

type TxHandle struct {
	ID          string
	ChainID     uint64
	Kind        PayloadKind
	SubmittedAt time.Time
}

type Receipt struct {
	Handle TxHandle
	Block  uint64
	// Time is the chain-local block timestamp.
	Time uint64
}

// Chain is the narrow interface to the chains an order spans.
//
// AwaitConfirmation returns ErrConfirmationTimeout when no confirmation
// arrives within timeout and ErrTxReverted when the transaction failed.
type Chain interface {
	SubmitTransaction(ctx context.Context, chainID uint64, p Payload) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, h TxHandle, timeout time.Duration) (Receipt, error)
	ReadEscrowBalance(ctx context.Context, chainID uint64, id escrow.ID) (*uint256.Int, error)
}

// Deployment is the escrow pair a resolver deployed for one fill.
type Deployment struct {
	Src escrow.ID
	Dst escrow.ID
}

// EscrowDeployer deploys and funds the resolver side of a fill: the source
// escrow for fill and the destination escrow holding dstAmount.
type EscrowDeployer interface {
	DeployEscrows(ctx context.Context, order *swap.Order, resolver string, fill, dstAmount, safetyDeposit *uint256.Int, now uint64) (Deployment, error)
}

// Rescuer takes over an order whose resolver let its commitment expire.
// A zero Price inherits the expired commitment's price.
type Rescuer struct {
	Address  string
	Deposit  *uint256.Int
	Price    uint64
	Deployer EscrowDeployer
}

type AnnouncementKind string

const (
	AnnounceOrderCreated    AnnouncementKind = "order_created"
	AnnounceCommitted       AnnouncementKind = "committed"
	AnnounceFillReported    AnnouncementKind = "fill_reported"
	AnnounceFundsLocked     AnnouncementKind = "funds_locked"
	AnnounceSecretRevealed  AnnouncementKind = "secret_revealed"
	AnnounceRescueAvailable AnnouncementKind = "rescue_available"
	AnnounceRescued         AnnouncementKind = "rescued"
	AnnounceCancelled       AnnouncementKind = "cancelled"
)

// Announcement is what resolvers listen for. Order is set on creation,
// Secret once revealed.
type Announcement struct {
	Kind      AnnouncementKind
	OrderHash swap.Hash
	State     State
	Order     *swap.Order
	Resolver  string
	Secret    *swap.Secret
	At        uint64
}

type Broadcaster interface {
	Publish(ctx context.Context, a Announcement) error
}

// Broadcasters fans one announcement out to several broadcasters and
// returns the first error.
type Broadcasters []Broadcaster

func (bs Broadcasters) Publish(ctx context.Context, a Announcement) error {
	var first error
	for _, b := range bs {
		if err := b.Publish(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
