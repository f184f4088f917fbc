// Package auction prices Dutch auctions. All arithmetic is integer so that
// resolvers and on-chain verifiers agree on every price bit for bit.
package auction

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
)

// PriceDecimals is the number of implied decimals of every price.
const PriceDecimals = 6

// Params describe one auction. StartPrice is the worst rate the maker
// accepts, EndPrice the best; the curve moves toward EndPrice over Duration
// whichever direction that is.
type Params struct {
	StartPrice uint64 `json:"start_price" toml:"start_price"`
	EndPrice   uint64 `json:"end_price" toml:"end_price"`
	StartTime  uint64 `json:"start_time" toml:"start_time"`
	Duration   uint64 `json:"duration" toml:"duration"`
}

func FromOrder(o *swap.Order) Params {
	var d uint64
	if o.AuctionEndTime > o.AuctionStartTime {
		d = o.AuctionEndTime - o.AuctionStartTime
	}
	return Params{
		StartPrice: o.StartPrice,
		EndPrice:   o.EndPrice,
		StartTime:  o.AuctionStartTime,
		Duration:   d,
	}
}

func (p Params) Validate() error {
	if p.Duration == 0 {
		return fmt.Errorf("%w: zero duration", swaperr.ErrInvalidParams)
	}
	if p.StartTime > math.MaxUint64-p.Duration {
		return fmt.Errorf("%w: end time overflows", swaperr.ErrInvalidParams)
	}
	return nil
}

func (p Params) EndTime() uint64 {
	return p.StartTime + p.Duration
}

func (p Params) increasing() bool {
	return p.EndPrice > p.StartPrice
}

// CurrentPrice returns the curve value at now. Intermediate values truncate
// toward StartPrice. Params are assumed valid; a zero duration yields
// EndPrice from StartTime on.
func CurrentPrice(p Params, now uint64) uint64 {
	if now <= p.StartTime {
		return p.StartPrice
	}
	if p.Duration == 0 || now-p.StartTime >= p.Duration {
		return p.EndPrice
	}

	elapsed := uint256.NewInt(now - p.StartTime)
	var delta *uint256.Int
	if p.increasing() {
		delta = uint256.NewInt(p.EndPrice - p.StartPrice)
	} else {
		delta = uint256.NewInt(p.StartPrice - p.EndPrice)
	}
	// delta and elapsed are both below 2^64, the product fits easily
	step := new(uint256.Int).Mul(delta, elapsed)
	step.Div(step, uint256.NewInt(p.Duration))

	if p.increasing() {
		return p.StartPrice + step.Uint64()
	}
	return p.StartPrice - step.Uint64()
}

// IsBetter reports whether price a is strictly more favorable to the maker
// than b, meaning closer to EndPrice.
func IsBetter(p Params, a, b uint64) bool {
	if p.increasing() {
		return a > b
	}
	return a < b
}

// ValidateResolverPrice checks a resolver's accepted price at now. Prices
// better than the curve are always accepted.
func ValidateResolverPrice(p Params, accepted, now uint64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if now >= p.EndTime() {
		return fmt.Errorf("%w: auction ended at %d", swaperr.ErrExpired, p.EndTime())
	}

	lo, hi := p.StartPrice, p.EndPrice
	if lo > hi {
		lo, hi = hi, lo
	}
	if accepted < lo || accepted > hi {
		return fmt.Errorf("%w: %d not in [%d, %d]", swaperr.ErrOutOfBounds, accepted, lo, hi)
	}

	current := CurrentPrice(p, now)
	if IsBetter(p, current, accepted) {
		return fmt.Errorf("%w: %d, curve is at %d", swaperr.ErrWorsePrice, accepted, current)
	}
	return nil
}

// maxDecimalsGap is the largest power of ten that fits in 256 bits.
const maxDecimalsGap = 77

// TokenAmounts converts a source amount at price into the destination
// amount owed to the maker. The taker amount is the source amount unchanged.
func TokenAmounts(srcAmount *uint256.Int, srcDecimals, dstDecimals uint8, price uint64) (*uint256.Int, *uint256.Int, error) {
	if srcAmount == nil {
		return nil, nil, fmt.Errorf("%w: nil source amount", swaperr.ErrInvalidParams)
	}

	num, overflow := new(uint256.Int).MulOverflow(srcAmount, uint256.NewInt(price))
	if overflow {
		return nil, nil, fmt.Errorf("%w: amount times price", swaperr.ErrAmountOverflow)
	}

	den := pow10(PriceDecimals)
	if dstDecimals >= srcDecimals {
		gap := dstDecimals - srcDecimals
		if gap > maxDecimalsGap {
			return nil, nil, fmt.Errorf("%w: decimals gap %d", swaperr.ErrAmountOverflow, gap)
		}
		if num, overflow = num.MulOverflow(num, pow10(gap)); overflow {
			return nil, nil, fmt.Errorf("%w: decimal scaling", swaperr.ErrAmountOverflow)
		}
	} else {
		gap := srcDecimals - dstDecimals
		if gap > maxDecimalsGap-PriceDecimals {
			// the divisor alone exceeds any 256-bit numerator
			return new(uint256.Int), new(uint256.Int).Set(srcAmount), nil
		}
		den.Mul(den, pow10(gap))
	}

	maker := num.Div(num, den)
	return maker, new(uint256.Int).Set(srcAmount), nil
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

type Point struct {
	Time  uint64 `json:"time"`
	Price uint64 `json:"price"`
}

// MaxCurvePoints bounds the samples Curve returns.
const MaxCurvePoints = 10_000

// Curve samples the price every step seconds from StartTime to the end,
// always including both endpoints.
func Curve(p Params, step uint64) ([]Point, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, fmt.Errorf("%w: zero step", swaperr.ErrInvalidParams)
	}
	if step > p.Duration {
		step = p.Duration
	}
	n := p.Duration / step
	if p.Duration%step != 0 {
		n++
	}
	if n >= MaxCurvePoints {
		return nil, fmt.Errorf("%w: step %d gives more than %d points", swaperr.ErrInvalidParams, step, MaxCurvePoints)
	}
	points := make([]Point, 0, n+1)
	for i := uint64(0); i < n; i++ {
		t := p.StartTime + i*step
		points = append(points, Point{Time: t, Price: CurrentPrice(p, t)})
	}
	points = append(points, Point{Time: p.EndTime(), Price: p.EndPrice})
	return points, nil
}
