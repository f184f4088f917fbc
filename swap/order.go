// Package swap holds the data model shared by both chains of a swap: the
// order, the per-escrow immutables record and the canonical hashing that
// identifies them.
package swap

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/msalopek/swap_relayer/timelock"
)

// Order is the maker's swap intent. It is immutable once created and
// identified by Hash.
type Order struct {
	Salt         *uint256.Int
	Maker        string
	Receiver     string
	MakerAsset   string
	TakerAsset   string
	MakingAmount *uint256.Int
	TakingAmount *uint256.Int
	Deadline     uint64
	Nonce        uint64
	SrcChainID   uint64
	DstChainID   uint64

	AuctionStartTime uint64
	AuctionEndTime   uint64
	StartPrice       uint64
	EndPrice         uint64

	Hashlock  Hash
	Timelocks timelock.Durations
}

const orderWords = 17

// Hash is keccak256 over the fixed-order word encoding of every field.
func (o *Order) Hash() Hash {
	return newWordEncoder(orderWords).
		amount(o.Salt).
		str(o.Maker).
		str(o.EffectiveReceiver()).
		str(o.MakerAsset).
		str(o.TakerAsset).
		amount(o.MakingAmount).
		amount(o.TakingAmount).
		uint(o.Deadline).
		uint(o.Nonce).
		uint(o.SrcChainID).
		uint(o.DstChainID).
		uint(o.AuctionStartTime).
		uint(o.AuctionEndTime).
		uint(o.StartPrice).
		uint(o.EndPrice).
		word(o.Hashlock).
		word(timelock.Encode(o.Timelocks).Bytes32()).
		sum()
}

// EffectiveReceiver is the destination-chain recipient; an empty receiver
// means the maker receives.
func (o *Order) EffectiveReceiver() string {
	if o.Receiver == "" {
		return o.Maker
	}
	return o.Receiver
}

func isPositive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}

// Validate checks the fields that do not depend on the current time.
func (o *Order) Validate() error {
	switch {
	case o.Maker == "":
		return fmt.Errorf("%w: maker is required", swaperr.ErrInvalidOrder)
	case o.MakerAsset == "" || o.TakerAsset == "":
		return fmt.Errorf("%w: maker and taker assets are required", swaperr.ErrInvalidOrder)
	case !isPositive(o.MakingAmount):
		return fmt.Errorf("%w: making amount must be positive", swaperr.ErrInvalidOrder)
	case !isPositive(o.TakingAmount):
		return fmt.Errorf("%w: taking amount must be positive", swaperr.ErrInvalidOrder)
	case o.AuctionEndTime <= o.AuctionStartTime:
		return fmt.Errorf("%w: auction end %d not after start %d", swaperr.ErrInvalidOrder, o.AuctionEndTime, o.AuctionStartTime)
	case o.SrcChainID == o.DstChainID:
		return fmt.Errorf("%w: source and destination chain are both %d", swaperr.ErrInvalidOrder, o.SrcChainID)
	case o.Hashlock == (Hash{}):
		return fmt.Errorf("%w: hashlock is required", swaperr.ErrInvalidOrder)
	}
	return o.Timelocks.Validate()
}

// TakingFor is the destination amount owed for a fill of the making amount,
// pro rata to the order and rounded up in the maker's favor.
func (o *Order) TakingFor(fill *uint256.Int) (*uint256.Int, error) {
	if !isPositive(o.MakingAmount) || fill == nil {
		return nil, swaperr.ErrInvalidOrder
	}
	taking, overflow := new(uint256.Int).MulDivOverflow(fill, o.TakingAmount, o.MakingAmount)
	if overflow {
		return nil, swaperr.ErrAmountOverflow
	}
	if !new(uint256.Int).MulMod(fill, o.TakingAmount, o.MakingAmount).IsZero() {
		taking.AddUint64(taking, 1)
	}
	return taking, nil
}

// SrcImmutables describes the source escrow for one fill: the maker's asset,
// withdrawn by the resolver.
func (o *Order) SrcImmutables(taker string, fill, safetyDeposit *uint256.Int) Immutables {
	return Immutables{
		OrderHash:     o.Hash(),
		Hashlock:      o.Hashlock,
		Maker:         o.Maker,
		Taker:         taker,
		Token:         o.MakerAsset,
		Amount:        new(uint256.Int).Set(fill),
		SafetyDeposit: cloneOrZero(safetyDeposit),
		Timelocks:     timelock.Encode(o.Timelocks),
	}
}

// DstImmutables describes the destination escrow for one fill: the taker
// asset deposited by the resolver, released to the receiver.
func (o *Order) DstImmutables(taker string, amount, safetyDeposit *uint256.Int) Immutables {
	return Immutables{
		OrderHash:     o.Hash(),
		Hashlock:      o.Hashlock,
		Maker:         o.EffectiveReceiver(),
		Taker:         taker,
		Token:         o.TakerAsset,
		Amount:        new(uint256.Int).Set(amount),
		SafetyDeposit: cloneOrZero(safetyDeposit),
		Timelocks:     timelock.Encode(o.Timelocks),
	}
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
