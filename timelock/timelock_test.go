package timelock

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDurations() Durations {
	return Durations{
		SrcWithdrawal:         10,
		SrcPublicWithdrawal:   120,
		SrcCancellation:       600,
		SrcPublicCancellation: 720,
		DstWithdrawal:         10,
		DstPublicWithdrawal:   100,
		DstCancellation:       500,
	}
}

func TestEncodeLanes(t *testing.T) {
	d := testDurations()
	packed := Encode(d)

	for i, want := range d.lanes() {
		lane := new(uint256.Int).Rsh(packed.Int(), uint(i)*32)
		assert.Equal(t, uint64(want), lane.Uint64()&math.MaxUint32, "lane %s", Stage(i))
	}
	assert.Equal(t, uint32(0), packed.DeployedAt())
	assert.Equal(t, d, packed.Durations())
}

func TestDecodeRoundTrip(t *testing.T) {
	tests := []Durations{
		testDurations(),
		{0, 1, 3, 4, 0, 1, 2},
		{
			SrcWithdrawal:         math.MaxUint32 - 3,
			SrcPublicWithdrawal:   math.MaxUint32 - 2,
			SrcCancellation:       math.MaxUint32 - 1,
			SrcPublicCancellation: math.MaxUint32,
			DstWithdrawal:         1,
			DstPublicWithdrawal:   2,
			DstCancellation:       3,
		},
	}

	for _, d := range tests {
		require.NoError(t, d.Validate())
		for _, deployedAt := range []uint64{0, 1_700_000_000, math.MaxUint32} {
			got := Decode(Encode(d), deployedAt)
			for i, offset := range d.lanes() {
				assert.Equal(t, deployedAt+uint64(offset), got.Get(Stage(i)), "stage %s", Stage(i))
			}
			assert.Equal(t, deployedAt, got.DeployedAt)
		}
	}
}

func TestWithDeployedAt(t *testing.T) {
	d := testDurations()
	packed := Encode(d).WithDeployedAt(1_700_000_000)

	assert.Equal(t, uint32(1_700_000_000), packed.DeployedAt())
	assert.Equal(t, d, packed.Durations())

	// overwriting keeps the stage lanes intact
	again := packed.WithDeployedAt(42)
	assert.Equal(t, uint32(42), again.DeployedAt())
	assert.Equal(t, d, again.Durations())

	dl := again.Deadlines()
	assert.Equal(t, uint64(42+600), dl.Src().Cancellation)
	assert.Equal(t, uint64(42+720), dl.Src().PublicCancellation)
	assert.Equal(t, uint64(42+500), dl.Dst().Cancellation)
	assert.Zero(t, dl.Dst().PublicCancellation)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Durations)
		ok     bool
	}{
		{"valid", func(d *Durations) {}, true},
		{"src withdrawal equals public", func(d *Durations) { d.SrcPublicWithdrawal = d.SrcWithdrawal }, false},
		{"src public cancellation before cancellation", func(d *Durations) { d.SrcPublicCancellation = 599 }, false},
		{"dst public withdrawal after cancellation", func(d *Durations) { d.DstPublicWithdrawal = 501 }, false},
		{"dst cancellation equals src cancellation", func(d *Durations) { d.DstCancellation = 600 }, false},
		{"dst cancellation after src cancellation", func(d *Durations) { d.DstCancellation = 650 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDurations()
			tt.mutate(&d)
			err := d.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, swaperr.ErrInvalidTimelockOrdering)
			assert.Equal(t, swaperr.KindValidation, swaperr.KindOf(err))
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	packed := Encode(testDurations()).WithDeployedAt(1_700_000_000)

	text, err := packed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0x", string(text[:2]))

	var back Timelocks
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, packed.Int(), back.Int())

	assert.Error(t, back.UnmarshalText([]byte("not-hex")))
}

func TestBytes32RoundTrip(t *testing.T) {
	packed := Encode(testDurations()).WithDeployedAt(7)
	back := FromBytes32(packed.Bytes32())
	assert.True(t, packed.Int().Eq(back.Int()))
	assert.Equal(t, uint32(7), back.DeployedAt())
}
