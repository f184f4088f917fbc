// Package timelock packs the seven escrow stage offsets and the deployment
// timestamp into one 256-bit word, the layout every chain's escrow verifies.
//
// Lane layout (bit offsets):
//
//	  0 src withdrawal            128 dst withdrawal
//	 32 src public withdrawal     160 dst public withdrawal
//	 64 src cancellation          192 dst cancellation
//	 96 src public cancellation   224 deployedAt (absolute, set at escrow creation)
package timelock

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swaperr"
)

type Stage uint8

const (
	SrcWithdrawal Stage = iota
	SrcPublicWithdrawal
	SrcCancellation
	SrcPublicCancellation
	DstWithdrawal
	DstPublicWithdrawal
	DstCancellation

	stageCount = int(DstCancellation) + 1
)

const (
	laneBits        = 32
	deployedAtShift = 224
)

var stageNames = [stageCount]string{
	"src_withdrawal",
	"src_public_withdrawal",
	"src_cancellation",
	"src_public_cancellation",
	"dst_withdrawal",
	"dst_public_withdrawal",
	"dst_cancellation",
}

func (s Stage) String() string {
	if int(s) < stageCount {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", s)
}

func (s Stage) shift() uint {
	return uint(s) * laneBits
}

// Durations are offsets in seconds from the escrow deployment instant.
type Durations struct {
	SrcWithdrawal         uint32 `json:"src_withdrawal" toml:"src_withdrawal"`
	SrcPublicWithdrawal   uint32 `json:"src_public_withdrawal" toml:"src_public_withdrawal"`
	SrcCancellation       uint32 `json:"src_cancellation" toml:"src_cancellation"`
	SrcPublicCancellation uint32 `json:"src_public_cancellation" toml:"src_public_cancellation"`
	DstWithdrawal         uint32 `json:"dst_withdrawal" toml:"dst_withdrawal"`
	DstPublicWithdrawal   uint32 `json:"dst_public_withdrawal" toml:"dst_public_withdrawal"`
	DstCancellation       uint32 `json:"dst_cancellation" toml:"dst_cancellation"`
}

func (d Durations) lanes() [stageCount]uint32 {
	return [stageCount]uint32{
		d.SrcWithdrawal,
		d.SrcPublicWithdrawal,
		d.SrcCancellation,
		d.SrcPublicCancellation,
		d.DstWithdrawal,
		d.DstPublicWithdrawal,
		d.DstCancellation,
	}
}

// Validate enforces the stage ordering on both sides. The destination escrow
// must become cancellable strictly before the source escrow so a resolver that
// revealed the secret on the destination chain can still withdraw on the
// source chain before the maker can cancel there.
func (d Durations) Validate() error {
	ordered := func(side string, stages ...Stage) error {
		l := d.lanes()
		for i := 1; i < len(stages); i++ {
			prev, cur := stages[i-1], stages[i]
			if l[prev] >= l[cur] {
				return fmt.Errorf("%w: %s %s (%d) must be before %s (%d)",
					swaperr.ErrInvalidTimelockOrdering, side, prev, l[prev], cur, l[cur])
			}
		}
		return nil
	}

	if err := ordered("source", SrcWithdrawal, SrcPublicWithdrawal, SrcCancellation, SrcPublicCancellation); err != nil {
		return err
	}
	if err := ordered("destination", DstWithdrawal, DstPublicWithdrawal, DstCancellation); err != nil {
		return err
	}
	if d.DstCancellation >= d.SrcCancellation {
		return fmt.Errorf("%w: dst cancellation (%d) must be before src cancellation (%d)",
			swaperr.ErrInvalidTimelockOrdering, d.DstCancellation, d.SrcCancellation)
	}
	return nil
}

// Timelocks is the packed 256-bit word.
type Timelocks struct {
	packed uint256.Int
}

// Encode packs the durations. The deployedAt lane is left zero; it is written
// when an escrow is created.
func Encode(d Durations) Timelocks {
	var t Timelocks
	lane := new(uint256.Int)
	for i, v := range d.lanes() {
		lane.SetUint64(uint64(v))
		lane.Lsh(lane, Stage(i).shift())
		t.packed.Or(&t.packed, lane)
	}
	return t
}

func FromInt(v *uint256.Int) Timelocks {
	var t Timelocks
	if v != nil {
		t.packed.Set(v)
	}
	return t
}

func FromBytes32(b [32]byte) Timelocks {
	var t Timelocks
	t.packed.SetBytes32(b[:])
	return t
}

func (t Timelocks) Int() *uint256.Int {
	return new(uint256.Int).Set(&t.packed)
}

func (t Timelocks) Bytes32() [32]byte {
	return t.packed.Bytes32()
}

func (t Timelocks) IsZero() bool {
	return t.packed.IsZero()
}

// Get returns the raw offset stored in a stage lane.
func (t Timelocks) Get(s Stage) uint32 {
	v := new(uint256.Int).Rsh(&t.packed, s.shift())
	return uint32(v.Uint64() & math.MaxUint32)
}

func (t Timelocks) DeployedAt() uint32 {
	v := new(uint256.Int).Rsh(&t.packed, deployedAtShift)
	return uint32(v.Uint64())
}

// WithDeployedAt returns a copy with the top lane replaced by ts.
func (t Timelocks) WithDeployedAt(ts uint32) Timelocks {
	var out Timelocks
	// drop the top lane and restore the lower 224 bits
	out.packed.Lsh(&t.packed, laneBits)
	out.packed.Rsh(&out.packed, laneBits)
	top := new(uint256.Int).SetUint64(uint64(ts))
	top.Lsh(top, deployedAtShift)
	out.packed.Or(&out.packed, top)
	return out
}

func (t Timelocks) Durations() Durations {
	return Durations{
		SrcWithdrawal:         t.Get(SrcWithdrawal),
		SrcPublicWithdrawal:   t.Get(SrcPublicWithdrawal),
		SrcCancellation:       t.Get(SrcCancellation),
		SrcPublicCancellation: t.Get(SrcPublicCancellation),
		DstWithdrawal:         t.Get(DstWithdrawal),
		DstPublicWithdrawal:   t.Get(DstPublicWithdrawal),
		DstCancellation:       t.Get(DstCancellation),
	}
}

// Deadlines decodes with the deployedAt stored in the word itself.
func (t Timelocks) Deadlines() Deadlines {
	return Decode(t, uint64(t.DeployedAt()))
}

func (t Timelocks) String() string {
	return t.packed.Hex()
}

func (t Timelocks) MarshalText() ([]byte, error) {
	return []byte(t.packed.Hex()), nil
}

func (t *Timelocks) UnmarshalText(b []byte) error {
	if err := t.packed.SetFromHex(string(b)); err != nil {
		return fmt.Errorf("timelocks %q: %w", string(b), err)
	}
	return nil
}

// Deadlines are absolute timestamps, in the time base of the chain the
// escrow lives on.
type Deadlines struct {
	DeployedAt uint64
	stages     [stageCount]uint64
}

// Decode turns the packed offsets into absolute deadlines relative to
// deployedAt. The deployedAt lane of packed is ignored.
func Decode(packed Timelocks, deployedAt uint64) Deadlines {
	d := Deadlines{DeployedAt: deployedAt}
	for i := 0; i < stageCount; i++ {
		d.stages[i] = deployedAt + uint64(packed.Get(Stage(i)))
	}
	return d
}

func (d Deadlines) Get(s Stage) uint64 {
	if int(s) >= stageCount {
		return 0
	}
	return d.stages[s]
}

// Window is one escrow's view of the schedule. PublicCancellation is zero on
// the destination side, which has no public cancellation stage.
type Window struct {
	Withdrawal         uint64
	PublicWithdrawal   uint64
	Cancellation       uint64
	PublicCancellation uint64
}

func (d Deadlines) Src() Window {
	return Window{
		Withdrawal:         d.stages[SrcWithdrawal],
		PublicWithdrawal:   d.stages[SrcPublicWithdrawal],
		Cancellation:       d.stages[SrcCancellation],
		PublicCancellation: d.stages[SrcPublicCancellation],
	}
}

func (d Deadlines) Dst() Window {
	return Window{
		Withdrawal:       d.stages[DstWithdrawal],
		PublicWithdrawal: d.stages[DstPublicWithdrawal],
		Cancellation:     d.stages[DstCancellation],
	}
}
