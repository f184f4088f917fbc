package simchain

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swap"
)

// Deployer deploys a resolver's escrow pair into the ledgers and funds the
// destination escrow on chain.
type Deployer struct {
	chain *Chain
	src   *escrow.Ledger
	dst   *escrow.Ledger

	mu        sync.Mutex
	failures  []error
	underfund bool
}

func NewDeployer(chain *Chain, src, dst *escrow.Ledger) *Deployer {
	return &Deployer{chain: chain, src: src, dst: dst}
}

// FailNext makes the next deployment fail with err.
func (d *Deployer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

// Underfund leaves destination escrows without their deposit.
func (d *Deployer) Underfund(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.underfund = v
}

func (d *Deployer) DeployEscrows(ctx context.Context, order *swap.Order, resolver string, fill, dstAmount, safetyDeposit *uint256.Int, now uint64) (settlement.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return settlement.Deployment{}, err
	}

	d.mu.Lock()
	var injected error
	if len(d.failures) > 0 {
		injected, d.failures = d.failures[0], d.failures[1:]
	}
	underfund := d.underfund
	d.mu.Unlock()
	if injected != nil {
		return settlement.Deployment{}, injected
	}

	srcID, err := d.src.Create(order.SrcImmutables(resolver, fill, safetyDeposit), now)
	if err != nil {
		return settlement.Deployment{}, err
	}
	dstID, err := d.dst.Create(order.DstImmutables(resolver, dstAmount, safetyDeposit), now)
	if err != nil {
		return settlement.Deployment{}, err
	}
	if !underfund {
		d.chain.Deposit(dstID, dstAmount)
	}
	return settlement.Deployment{Src: srcID, Dst: dstID}, nil
}
