// Package simchain is an in-memory stand-in for the chains an order spans.
// It implements settlement.Chain and settlement.EscrowDeployer, with failure
// injection for tests and the demo relayer.
package simchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/rs/zerolog"
)

type tx struct {
	handle  settlement.TxHandle
	payload settlement.Payload
	err     error
	done    bool
	receipt settlement.Receipt
}

type Chain struct {
	mu       sync.Mutex
	chains   map[uint64]uint64 // chain id -> block time
	block    uint64
	balances map[escrow.ID]*uint256.Int
	txs      map[string]*tx
	order    []string
	failures map[settlement.PayloadKind][]error
	logger   *zerolog.Logger
}

func New(logger *zerolog.Logger, chainIDs ...uint64) *Chain {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Chain{
		chains:   map[uint64]uint64{},
		balances: map[escrow.ID]*uint256.Int{},
		txs:      map[string]*tx{},
		failures: map[settlement.PayloadKind][]error{},
		logger:   logger,
	}
	for _, id := range chainIDs {
		c.chains[id] = 0
	}
	return c
}

// SetTime sets a chain's block time. Receipts carry it so escrow checks use
// the confirming block's time.
func (c *Chain) SetTime(chainID, ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[chainID] = ts
}

// FailNext makes the next transaction of kind fail with err on
// confirmation. settlement.ErrConfirmationTimeout waits out the caller's
// timeout first.
func (c *Chain) FailNext(kind settlement.PayloadKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[kind] = append(c.failures[kind], err)
}

// Deposit credits an escrow's on-chain balance, the way a resolver funds its
// destination escrow.
func (c *Chain) Deposit(id escrow.ID, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(id, amount)
}

func (c *Chain) credit(id escrow.ID, amount *uint256.Int) {
	bal, ok := c.balances[id]
	if !ok {
		bal = new(uint256.Int)
		c.balances[id] = bal
	}
	bal.Add(bal, amount)
}

func (c *Chain) SubmitTransaction(ctx context.Context, chainID uint64, p settlement.Payload) (settlement.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return settlement.TxHandle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chains[chainID]; !ok {
		return settlement.TxHandle{}, fmt.Errorf("unknown chain %d", chainID)
	}

	h := settlement.TxHandle{
		ID:          uuid.NewString(),
		ChainID:     chainID,
		Kind:        p.Kind,
		SubmittedAt: time.Now(),
	}
	t := &tx{handle: h, payload: p}
	if queued := c.failures[p.Kind]; len(queued) > 0 {
		t.err = queued[0]
		c.failures[p.Kind] = queued[1:]
	}
	c.txs[h.ID] = t
	c.order = append(c.order, h.ID)

	c.logger.Debug().
		Str("tx", h.ID).
		Uint64("chain", chainID).
		Str("kind", string(p.Kind)).
		Stringer("escrow", p.Escrow).
		Msg("transaction submitted")
	return h, nil
}

func (c *Chain) AwaitConfirmation(ctx context.Context, h settlement.TxHandle, timeout time.Duration) (settlement.Receipt, error) {
	c.mu.Lock()
	t, ok := c.txs[h.ID]
	if !ok {
		c.mu.Unlock()
		return settlement.Receipt{}, fmt.Errorf("unknown transaction %s", h.ID)
	}
	injected := t.err
	c.mu.Unlock()

	if errors.Is(injected, settlement.ErrConfirmationTimeout) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			return settlement.Receipt{}, settlement.ErrConfirmationTimeout
		case <-ctx.Done():
			return settlement.Receipt{}, ctx.Err()
		}
	}
	if injected != nil {
		return settlement.Receipt{}, injected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.done {
		c.apply(t.payload)
		c.block++
		t.done = true
		t.receipt = settlement.Receipt{Handle: h, Block: c.block, Time: c.chains[h.ChainID]}
	}
	return t.receipt, nil
}

func (c *Chain) apply(p settlement.Payload) {
	switch p.Kind {
	case settlement.PayloadLockFunds:
		if p.Amount != nil {
			c.credit(p.Escrow, p.Amount)
		}
	case settlement.PayloadWithdraw, settlement.PayloadCancel:
		c.balances[p.Escrow] = new(uint256.Int)
	}
}

func (c *Chain) ReadEscrowBalance(ctx context.Context, chainID uint64, id escrow.ID) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chains[chainID]; !ok {
		return nil, fmt.Errorf("unknown chain %d", chainID)
	}
	if bal, ok := c.balances[id]; ok {
		return new(uint256.Int).Set(bal), nil
	}
	return new(uint256.Int), nil
}

// Payloads returns every submitted payload in submission order.
func (c *Chain) Payloads() []settlement.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]settlement.Payload, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.txs[id].payload)
	}
	return out
}
