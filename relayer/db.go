package relayer

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/msalopek/swap_relayer/settlement"
)

type DbOrder struct {
	OrderHash    string `json:"order_hash"`
	Maker        string `json:"maker"`
	Receiver     string `json:"receiver"`
	MakerAsset   string `json:"maker_asset"`
	TakerAsset   string `json:"taker_asset"`
	MakingAmount string `json:"making_amount"`
	TakingAmount string `json:"taking_amount"`
	SrcChainID   uint64 `json:"src_chain_id"`
	DstChainID   uint64 `json:"dst_chain_id"`
	Deadline     uint64 `json:"deadline"`
	State        string `json:"state"`
	Resolver     string `json:"resolver"`
	TotalFilled  string `json:"total_filled"`
	OrderJSON    []byte `json:"-"`
	CreatedAt    uint64 `json:"created_at"`
	UpdatedAt    uint64 `json:"updated_at"`
}

type DbCommitment struct {
	OrderHash   string `json:"order_hash"`
	Resolver    string `json:"resolver"`
	Price       uint64 `json:"price"`
	Deposit     string `json:"deposit"`
	FillAmount  string `json:"fill_amount"`
	DstAmount   string `json:"dst_amount"`
	CommittedAt uint64 `json:"committed_at"`
	ExpiresAt   uint64 `json:"expires_at"`
	Rescue      bool   `json:"rescue"`
}

type DbFill struct {
	OrderHash  string `json:"order_hash"`
	Resolver   string `json:"resolver"`
	Amount     string `json:"amount"`
	Price      uint64 `json:"price"`
	SrcEscrow  string `json:"src_escrow"`
	DstEscrow  string `json:"dst_escrow"`
	ReportedAt uint64 `json:"reported_at"`
}

type DbSwapEvent struct {
	OrderHash string `json:"order_hash"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Actor     string `json:"actor"`
	At        uint64 `json:"at"`
}

type DbPayout struct {
	OrderHash string `json:"order_hash"`
	To        string `json:"to"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	At        uint64 `json:"at"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_hash TEXT PRIMARY KEY,
		maker TEXT,
		receiver TEXT,
		maker_asset TEXT,
		taker_asset TEXT,
		making_amount TEXT,
		taking_amount TEXT,
		src_chain_id INTEGER,
		dst_chain_id INTEGER,
		deadline INTEGER,
		state TEXT,
		resolver TEXT,
		total_filled TEXT,
		order_json TEXT,
		created_at INTEGER,
		updated_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS commitments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_hash TEXT,
		resolver TEXT,
		price INTEGER,
		deposit TEXT,
		fill_amount TEXT,
		dst_amount TEXT,
		committed_at INTEGER,
		expires_at INTEGER,
		rescue BOOLEAN,
		UNIQUE (order_hash, resolver, committed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_hash TEXT,
		resolver TEXT,
		amount TEXT,
		price INTEGER,
		src_escrow TEXT UNIQUE,
		dst_escrow TEXT,
		reported_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS swap_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_hash TEXT,
		from_state TEXT,
		to_state TEXT,
		actor TEXT,
		at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS payouts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_hash TEXT,
		to_address TEXT,
		token TEXT,
		amount TEXT,
		reason TEXT,
		at INTEGER,
		UNIQUE (order_hash, to_address, reason, amount, at)
	)`,
}

func InitDB(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
	}
	return nil
}

func toDbOrder(s settlement.Swap) (DbOrder, error) {
	raw, err := json.Marshal(fromOrder(s.Order))
	if err != nil {
		return DbOrder{}, err
	}
	o := s.Order
	return DbOrder{
		OrderHash:    s.OrderHash.Hex(),
		Maker:        o.Maker,
		Receiver:     o.EffectiveReceiver(),
		MakerAsset:   o.MakerAsset,
		TakerAsset:   o.TakerAsset,
		MakingAmount: o.MakingAmount.Dec(),
		TakingAmount: o.TakingAmount.Dec(),
		SrcChainID:   o.SrcChainID,
		DstChainID:   o.DstChainID,
		Deadline:     o.Deadline,
		State:        s.State.String(),
		Resolver:     s.ResolverOfRecord,
		TotalFilled:  s.TotalFilled.Dec(),
		OrderJSON:    raw,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}, nil
}

func (r *Relayer) UpsertOrder(o DbOrder) error {
	_, err := r.db.Exec(`
		INSERT INTO orders (order_hash, maker, receiver, maker_asset, taker_asset, making_amount, taking_amount,
			src_chain_id, dst_chain_id, deadline, state, resolver, total_filled, order_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_hash) DO UPDATE SET
			state = excluded.state,
			resolver = excluded.resolver,
			total_filled = excluded.total_filled,
			updated_at = excluded.updated_at
	`, o.OrderHash, o.Maker, o.Receiver, o.MakerAsset, o.TakerAsset, o.MakingAmount, o.TakingAmount,
		o.SrcChainID, o.DstChainID, o.Deadline, o.State, o.Resolver, o.TotalFilled, string(o.OrderJSON), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *Relayer) InsertCommitment(c DbCommitment) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO commitments (order_hash, resolver, price, deposit, fill_amount, dst_amount, committed_at, expires_at, rescue)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.OrderHash, c.Resolver, c.Price, c.Deposit, c.FillAmount, c.DstAmount, c.CommittedAt, c.ExpiresAt, c.Rescue)
	return err
}

func (r *Relayer) InsertFill(f DbFill) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO fills (order_hash, resolver, amount, price, src_escrow, dst_escrow, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.OrderHash, f.Resolver, f.Amount, f.Price, f.SrcEscrow, f.DstEscrow, f.ReportedAt)
	return err
}

func (r *Relayer) InsertSwapEvent(e DbSwapEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO swap_events (order_hash, from_state, to_state, actor, at)
		VALUES (?, ?, ?, ?, ?)
	`, e.OrderHash, e.FromState, e.ToState, e.Actor, e.At)
	return err
}

func (r *Relayer) InsertPayout(p DbPayout) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO payouts (order_hash, to_address, token, amount, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.OrderHash, p.To, p.Token, p.Amount, p.Reason, p.At)
	return err
}

func ReadOrders(db *sql.DB, state string) ([]DbOrder, error) {
	query := `
		SELECT order_hash, maker, receiver, maker_asset, taker_asset, making_amount, taking_amount,
			src_chain_id, dst_chain_id, deadline, state, resolver, total_filled, order_json, created_at, updated_at
		FROM orders`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at, order_hash`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	orders := []DbOrder{}
	for rows.Next() {
		var o DbOrder
		var raw string
		err := rows.Scan(&o.OrderHash, &o.Maker, &o.Receiver, &o.MakerAsset, &o.TakerAsset, &o.MakingAmount, &o.TakingAmount,
			&o.SrcChainID, &o.DstChainID, &o.Deadline, &o.State, &o.Resolver, &o.TotalFilled, &raw, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		o.OrderJSON = []byte(raw)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func ReadSwapEvents(db *sql.DB, orderHash string) ([]DbSwapEvent, error) {
	rows, err := db.Query(`
		SELECT order_hash, from_state, to_state, actor, at
		FROM swap_events
		WHERE order_hash = ?
		ORDER BY id
	`, orderHash)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	events := []DbSwapEvent{}
	for rows.Next() {
		var e DbSwapEvent
		if err := rows.Scan(&e.OrderHash, &e.FromState, &e.ToState, &e.Actor, &e.At); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
