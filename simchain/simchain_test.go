package simchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/timelock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndConfirm(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 1, 2)
	c.SetTime(1, 1_234)

	id := swap.HexToHash("0x01")
	h, err := c.SubmitTransaction(ctx, 1, settlement.Payload{Kind: settlement.PayloadLockFunds, Escrow: id, Amount: uint256.NewInt(50)})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	r, err := c.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Block)
	assert.Equal(t, uint64(1_234), r.Time)

	// confirming again returns the same receipt without reapplying
	again, err := c.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, r, again)

	bal, err := c.ReadEscrowBalance(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), bal.Uint64())

	h, err = c.SubmitTransaction(ctx, 1, settlement.Payload{Kind: settlement.PayloadCancel, Escrow: id})
	require.NoError(t, err)
	_, err = c.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
	bal, err = c.ReadEscrowBalance(ctx, 1, id)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	assert.Len(t, c.Payloads(), 2)
}

func TestUnknownChain(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 1)

	_, err := c.SubmitTransaction(ctx, 9, settlement.Payload{Kind: settlement.PayloadWithdraw})
	assert.Error(t, err)
	_, err = c.ReadEscrowBalance(ctx, 9, swap.Hash{})
	assert.Error(t, err)
	_, err = c.AwaitConfirmation(ctx, settlement.TxHandle{ID: "missing"}, time.Millisecond)
	assert.Error(t, err)
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 1)
	id := swap.HexToHash("0x02")
	lock := settlement.Payload{Kind: settlement.PayloadLockFunds, Escrow: id, Amount: uint256.NewInt(10)}

	c.FailNext(settlement.PayloadLockFunds, settlement.ErrConfirmationTimeout)
	c.FailNext(settlement.PayloadLockFunds, settlement.ErrTxReverted)

	h, err := c.SubmitTransaction(ctx, 1, lock)
	require.NoError(t, err)
	start := time.Now()
	_, err = c.AwaitConfirmation(ctx, h, 10*time.Millisecond)
	assert.ErrorIs(t, err, settlement.ErrConfirmationTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	h, err = c.SubmitTransaction(ctx, 1, lock)
	require.NoError(t, err)
	_, err = c.AwaitConfirmation(ctx, h, time.Second)
	assert.ErrorIs(t, err, settlement.ErrTxReverted)

	bal, err := c.ReadEscrowBalance(ctx, 1, id)
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "failed transactions have no effect")

	h, err = c.SubmitTransaction(ctx, 1, lock)
	require.NoError(t, err)
	_, err = c.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
}

func TestAwaitHonorsContext(t *testing.T) {
	c := New(nil, 1)
	c.FailNext(settlement.PayloadWithdraw, settlement.ErrConfirmationTimeout)

	h, err := c.SubmitTransaction(context.Background(), 1, settlement.Payload{Kind: settlement.PayloadWithdraw})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.AwaitConfirmation(ctx, h, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeployer(t *testing.T) {
	ctx := context.Background()
	secret, err := swap.NewSecret()
	require.NoError(t, err)

	order := &swap.Order{
		Salt:         uint256.NewInt(1),
		Maker:        "maker",
		MakerAsset:   "src:token",
		TakerAsset:   "dst:token",
		MakingAmount: uint256.NewInt(1_000),
		TakingAmount: uint256.NewInt(2_000),
		SrcChainID:   1,
		DstChainID:   2,
		Hashlock:     secret.Hashlock(),
		Timelocks: timelock.Durations{
			SrcPublicWithdrawal: 10, SrcCancellation: 20, SrcPublicCancellation: 30,
			DstPublicWithdrawal: 5, DstCancellation: 15,
		},
	}

	c := New(nil, 1, 2)
	src := escrow.NewLedger(escrow.Source, nil)
	dst := escrow.NewLedger(escrow.Destination, nil)
	d := NewDeployer(c, src, dst)

	dep, err := d.DeployEscrows(ctx, order, "resolver", uint256.NewInt(250), uint256.NewInt(500), uint256.NewInt(3), 100)
	require.NoError(t, err)

	se, err := src.Get(dep.Src)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), se.Immutables.Amount.Uint64())
	assert.Equal(t, uint64(100), se.Deadlines.DeployedAt)
	assert.Equal(t, escrow.Created, se.Status)

	de, err := dst.Get(dep.Dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), de.Immutables.Amount.Uint64())
	assert.Equal(t, "maker", de.Immutables.Maker)

	bal, err := c.ReadEscrowBalance(ctx, 2, dep.Dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bal.Uint64())

	d.Underfund(true)
	dep, err = d.DeployEscrows(ctx, order, "other", uint256.NewInt(250), uint256.NewInt(500), uint256.NewInt(3), 100)
	require.NoError(t, err)
	bal, err = c.ReadEscrowBalance(ctx, 2, dep.Dst)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	boom := errors.New("boom")
	d.FailNext(boom)
	_, err = d.DeployEscrows(ctx, order, "third", uint256.NewInt(250), uint256.NewInt(500), uint256.NewInt(3), 100)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, src.ByOrder(order.Hash()), 2)
}
