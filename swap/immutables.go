package swap

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/msalopek/swap_relayer/timelock"
)

// Immutables is the parameter record one escrow is derived from. The source
// and destination escrows of a fill share OrderHash and Hashlock.
type Immutables struct {
	OrderHash     Hash
	Hashlock      Hash
	Maker         string
	Taker         string
	Token         string
	Amount        *uint256.Int
	SafetyDeposit *uint256.Int
	Timelocks     timelock.Timelocks
}

const immutablesWords = 8

// Hash doubles as the escrow id, the analogue of a deterministic escrow
// address. It covers the deployedAt lane of the timelocks.
func (im *Immutables) Hash() Hash {
	return newWordEncoder(immutablesWords).
		word(im.OrderHash).
		word(im.Hashlock).
		str(im.Maker).
		str(im.Taker).
		str(im.Token).
		amount(im.Amount).
		amount(im.SafetyDeposit).
		word(im.Timelocks.Bytes32()).
		sum()
}

func (im *Immutables) Validate() error {
	switch {
	case im.OrderHash == (Hash{}):
		return fmt.Errorf("%w: order hash is required", swaperr.ErrInvalidImmutables)
	case im.Hashlock == (Hash{}):
		return fmt.Errorf("%w: hashlock is required", swaperr.ErrInvalidImmutables)
	case im.Maker == "" || im.Taker == "":
		return fmt.Errorf("%w: maker and taker are required", swaperr.ErrInvalidImmutables)
	case im.Token == "":
		return fmt.Errorf("%w: token is required", swaperr.ErrInvalidImmutables)
	case !isPositive(im.Amount):
		return fmt.Errorf("%w: amount must be positive", swaperr.ErrInvalidImmutables)
	case im.SafetyDeposit == nil:
		return fmt.Errorf("%w: safety deposit is required", swaperr.ErrInvalidImmutables)
	}
	if err := im.Timelocks.Durations().Validate(); err != nil {
		return fmt.Errorf("%w: %w", swaperr.ErrInvalidImmutables, err)
	}
	return nil
}

// Clone returns a deep copy so ledgers never alias caller-owned amounts.
func (im Immutables) Clone() Immutables {
	out := im
	out.Amount = cloneOrZero(im.Amount)
	out.SafetyDeposit = cloneOrZero(im.SafetyDeposit)
	return out
}
