package escrow

import (
	"fmt"
	"math"
	"sync"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/rs/zerolog"
)

type partyKey struct {
	orderHash swap.Hash
	taker     string
}

type balanceKey struct {
	account string
	token   string
}

// Ledger is the escrow registry of one chain side. A single mutex serializes
// every read-modify-write, so funding, partial-fill accumulation and
// finalization are atomic per escrow and per order.
type Ledger struct {
	mu       sync.Mutex
	side     Side
	escrows  map[ID]*Escrow
	byParty  map[partyKey]ID
	byOrder  map[swap.Hash][]ID
	filled   map[swap.Hash]*uint256.Int
	balances map[balanceKey]*uint256.Int
	payouts  []Payout
	logger   *zerolog.Logger
}

func NewLedger(side Side, logger *zerolog.Logger) *Ledger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("ledger", side.String()).Logger()
	return &Ledger{
		side:     side,
		escrows:  map[ID]*Escrow{},
		byParty:  map[partyKey]ID{},
		byOrder:  map[swap.Hash][]ID{},
		filled:   map[swap.Hash]*uint256.Int{},
		balances: map[balanceKey]*uint256.Int{},
		logger:   &l,
	}
}

func (l *Ledger) Side() Side {
	return l.side
}

// Create registers a new escrow in Created, stamping now into the deployedAt
// lane of its timelocks. The returned id covers that timestamp.
func (l *Ledger) Create(imm swap.Immutables, now uint64) (ID, error) {
	if err := imm.Validate(); err != nil {
		return ID{}, err
	}
	if now > math.MaxUint32 {
		return ID{}, fmt.Errorf("%w: deployment time %d does not fit the timelock lane", swaperr.ErrInvalidImmutables, now)
	}

	imm = imm.Clone()
	imm.Timelocks = imm.Timelocks.WithDeployedAt(uint32(now))
	id := imm.Hash()

	l.mu.Lock()
	defer l.mu.Unlock()

	key := partyKey{orderHash: imm.OrderHash, taker: imm.Taker}
	if existing, ok := l.byParty[key]; ok {
		return ID{}, fmt.Errorf("%w: order %s taker %s already has escrow %s",
			swaperr.ErrDuplicateEscrow, imm.OrderHash, imm.Taker, existing)
	}

	e := &Escrow{
		ID:         id,
		Side:       l.side,
		Immutables: imm,
		Status:     Created,
		Balance:    new(uint256.Int),
		Deadlines:  imm.Timelocks.Deadlines(),
	}
	l.escrows[id] = e
	l.byParty[key] = id
	l.byOrder[imm.OrderHash] = append(l.byOrder[imm.OrderHash], id)

	l.logger.Debug().
		Stringer("escrow", id).
		Stringer("order", imm.OrderHash).
		Str("taker", imm.Taker).
		Str("amount", imm.Amount.Dec()).
		Uint64("deployed_at", now).
		Msg("escrow created")
	return id, nil
}

func (l *Ledger) lookup(id ID) (*Escrow, error) {
	e, ok := l.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: escrow %s", swaperr.ErrNotFound, id)
	}
	return e, nil
}

// Fund accumulates a deposit. The escrow becomes Funded once its balance
// reaches the immutables amount, at which point that amount is added to the
// order's filled total.
func (l *Ledger) Fund(id ID, amount *uint256.Int) (Status, error) {
	if amount == nil || amount.IsZero() {
		return 0, fmt.Errorf("%w: funding amount must be positive", swaperr.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup(id)
	if err != nil {
		return 0, err
	}
	return l.fund(e, amount)
}

func (l *Ledger) fund(e *Escrow, amount *uint256.Int) (Status, error) {
	if e.Status.Terminal() {
		return e.Status, fmt.Errorf("%w: escrow %s is %s", swaperr.ErrAlreadyFinalized, e.ID, e.Status)
	}

	next, overflow := new(uint256.Int).AddOverflow(e.Balance, amount)
	if overflow {
		return e.Status, fmt.Errorf("%w: escrow %s balance", swaperr.ErrAmountOverflow, e.ID)
	}
	e.Balance = next

	if e.Status == Created && !e.Balance.Lt(e.Immutables.Amount) {
		e.Status = Funded
		total, ok := l.filled[e.Immutables.OrderHash]
		if !ok {
			total = new(uint256.Int)
			l.filled[e.Immutables.OrderHash] = total
		}
		total.Add(total, e.Immutables.Amount)

		l.logger.Debug().
			Stringer("escrow", e.ID).
			Str("balance", e.Balance.Dec()).
			Str("order_filled", total.Dec()).
			Msg("escrow funded")
	}
	return e.Status, nil
}

// Sync mirrors an observed on-chain balance into the ledger. Only increases
// are applied; the ledger never debits on observation.
func (l *Ledger) Sync(id ID, observed *uint256.Int) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup(id)
	if err != nil {
		return 0, err
	}
	if observed == nil || !e.Balance.Lt(observed) {
		return e.Status, nil
	}
	return l.fund(e, new(uint256.Int).Sub(observed, e.Balance))
}

// Withdraw releases the escrow against secret. Before the public withdrawal
// window only the taker may withdraw; nobody may once cancellation opens.
func (l *Ledger) Withdraw(id ID, caller string, secret swap.Secret, now uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup(id)
	if err != nil {
		return err
	}

	switch {
	case e.Status.Terminal():
		return fmt.Errorf("%w: escrow %s is %s", swaperr.ErrAlreadyFinalized, id, e.Status)
	case e.Status != Funded:
		return fmt.Errorf("%w: escrow %s holds %s of %s", swaperr.ErrNotFunded, id, e.Balance.Dec(), e.Immutables.Amount.Dec())
	case swap.HashSecret(secret) != e.Immutables.Hashlock:
		return fmt.Errorf("%w: escrow %s", swaperr.ErrHashMismatch, id)
	}

	w := e.Window()
	switch {
	case now < w.Withdrawal:
		return fmt.Errorf("%w: withdrawal opens at %d", swaperr.ErrTooEarly, w.Withdrawal)
	case caller != e.Immutables.Taker && now < w.PublicWithdrawal:
		return fmt.Errorf("%w: public withdrawal opens at %d", swaperr.ErrTooEarly, w.PublicWithdrawal)
	case now >= w.Cancellation:
		return fmt.Errorf("%w: cancellation opened at %d", swaperr.ErrTooLate, w.Cancellation)
	}

	e.Status = Withdrawn
	e.FinalizedAt = now
	e.FinalizedBy = caller
	revealed := secret
	e.Secret = &revealed

	amount := e.Immutables.Amount
	l.pay(e, PayoutWithdrawal, e.beneficiary(), e.Immutables.Token, amount, now)
	if excess := new(uint256.Int).Sub(e.Balance, amount); !excess.IsZero() {
		l.pay(e, PayoutRefund, e.depositor(), e.Immutables.Token, excess, now)
	}
	l.pay(e, PayoutSafetyDeposit, caller, NativeToken, e.Immutables.SafetyDeposit, now)
	e.Balance = new(uint256.Int)

	l.logger.Info().
		Stringer("escrow", id).
		Str("caller", caller).
		Str("to", e.beneficiary()).
		Str("amount", amount.Dec()).
		Msg("escrow withdrawn")
	return nil
}

// Cancel returns the deposited balance to the depositor and the safety
// deposit to the caller. On the source side only the taker may cancel before
// the public cancellation window. Unfunded escrows can be cancelled too.
func (l *Ledger) Cancel(id ID, caller string, now uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup(id)
	if err != nil {
		return err
	}
	if e.Status.Terminal() {
		return fmt.Errorf("%w: escrow %s is %s", swaperr.ErrAlreadyFinalized, id, e.Status)
	}

	w := e.Window()
	if now < w.Cancellation {
		return fmt.Errorf("%w: cancellation opens at %d", swaperr.ErrTooEarly, w.Cancellation)
	}
	if e.Side == Source && caller != e.Immutables.Taker && now < w.PublicCancellation {
		return fmt.Errorf("%w: public cancellation opens at %d", swaperr.ErrTooEarly, w.PublicCancellation)
	}

	e.Status = Cancelled
	e.FinalizedAt = now
	e.FinalizedBy = caller

	refunded := e.Balance
	if !refunded.IsZero() {
		l.pay(e, PayoutRefund, e.depositor(), e.Immutables.Token, refunded, now)
	}
	l.pay(e, PayoutSafetyDeposit, caller, NativeToken, e.Immutables.SafetyDeposit, now)
	e.Balance = new(uint256.Int)

	l.logger.Info().
		Stringer("escrow", id).
		Str("caller", caller).
		Str("refunded", refunded.Dec()).
		Msg("escrow cancelled")
	return nil
}

// pay records a payout and credits the account. Zero amounts are skipped.
func (l *Ledger) pay(e *Escrow, kind PayoutKind, to, token string, amount *uint256.Int, now uint64) {
	if amount == nil || amount.IsZero() {
		return
	}
	amt := new(uint256.Int).Set(amount)
	key := balanceKey{account: to, token: token}
	bal, ok := l.balances[key]
	if !ok {
		bal = new(uint256.Int)
		l.balances[key] = bal
	}
	bal.Add(bal, amt)

	l.payouts = append(l.payouts, Payout{
		EscrowID:  e.ID,
		OrderHash: e.Immutables.OrderHash,
		Side:      e.Side,
		Kind:      kind,
		To:        to,
		Token:     token,
		Amount:    amt,
		At:        now,
	})
}

func (l *Ledger) Get(id ID) (Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup(id)
	if err != nil {
		return Escrow{}, err
	}
	return e.clone(), nil
}

// ByOrder returns every escrow of an order in creation order.
func (l *Ledger) ByOrder(orderHash swap.Hash) []Escrow {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := l.byOrder[orderHash]
	out := make([]Escrow, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.escrows[id].clone())
	}
	return out
}

// TotalFilled is the sum of the amounts of every escrow of the order that
// ever reached Funded. It does not decrease on cancellation.
func (l *Ledger) TotalFilled(orderHash swap.Hash) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if total, ok := l.filled[orderHash]; ok {
		return new(uint256.Int).Set(total)
	}
	return new(uint256.Int)
}

// Balance is the total credited to account in token by withdrawals,
// refunds and safety deposit releases.
func (l *Ledger) Balance(account, token string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bal, ok := l.balances[balanceKey{account: account, token: token}]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (l *Ledger) Payouts() []Payout {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Payout, len(l.payouts))
	for i, p := range l.payouts {
		p.Amount = new(uint256.Int).Set(p.Amount)
		out[i] = p
	}
	return out
}
