package relayer

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

type ResolverStatsSummary struct {
	Resolver       string             `json:"resolver"`
	TotalFillCount int64              `json:"total_fill_count"`
	TotalVolume    string             `json:"total_volume"`
	TotalRewards   string             `json:"total_rewards"`
	NetworkStats   []NetworkFillStats `json:"networks"`
}

type NetworkFillStats struct {
	Network    string  `json:"network"`
	FillCount  int64   `json:"fill_count"`
	OrderCount int64   `json:"order_count"`
	Volume     string  `json:"volume"`
	AvgPrice   float64 `json:"avg_price"`
}

// networkName maps a chain id to the configured chain key.
func (r *Relayer) networkName(chainID uint64) string {
	if entry, ok := r.cfg.Chain(chainID); ok && entry.Key != "" {
		return entry.Key
	}
	return strconv.FormatUint(chainID, 10)
}

// GetDbResolverStats aggregates a resolver's accepted fills per source chain.
// Amounts are summed as decimals since they may not fit in an sqlite
// integer.
func (r *Relayer) GetDbResolverStats(resolver string) (*ResolverStatsSummary, error) {
	if resolver == "" {
		return nil, fmt.Errorf("resolver address is required")
	}

	rows, err := r.db.Query(`
        SELECT
            o.src_chain_id as network,
            COUNT(*) as fill_count,
            COUNT(DISTINCT f.order_hash) as order_count,
            AVG(f.price) as avg_price
        FROM fills f
        JOIN orders o ON o.order_hash = f.order_hash
        WHERE f.resolver = ?
        GROUP BY o.src_chain_id
        ORDER BY o.src_chain_id
    `, resolver)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	stats := ResolverStatsSummary{Resolver: resolver, NetworkStats: []NetworkFillStats{}}
	index := map[uint64]int{}
	for rows.Next() {
		var chainID uint64
		var s NetworkFillStats
		if err := rows.Scan(&chainID, &s.FillCount, &s.OrderCount, &s.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		s.Network = r.networkName(chainID)
		index[chainID] = len(stats.NetworkStats)
		stats.NetworkStats = append(stats.NetworkStats, s)
		stats.TotalFillCount += s.FillCount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	volumes, err := r.sumByChain(`
        SELECT o.src_chain_id, f.amount
        FROM fills f
        JOIN orders o ON o.order_hash = f.order_hash
        WHERE f.resolver = ?
    `, resolver)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for chainID, v := range volumes {
		if i, ok := index[chainID]; ok {
			stats.NetworkStats[i].Volume = v.String()
		}
		total = total.Add(v)
	}
	stats.TotalVolume = total.String()

	rewards, err := r.sumByChain(`
        SELECT o.src_chain_id, p.amount
        FROM payouts p
        JOIN orders o ON o.order_hash = p.order_hash
        WHERE p.to_address = ? AND p.reason = 'forfeit_reward'
    `, resolver)
	if err != nil {
		return nil, err
	}
	totalRewards := decimal.Zero
	for _, v := range rewards {
		totalRewards = totalRewards.Add(v)
	}
	stats.TotalRewards = totalRewards.String()

	return &stats, nil
}

func (r *Relayer) sumByChain(query string, args ...any) (map[uint64]decimal.Decimal, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	sums := map[uint64]decimal.Decimal{}
	for rows.Next() {
		var chainID uint64
		var amount string
		if err := rows.Scan(&chainID, &amount); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amount, err)
		}
		sums[chainID] = sums[chainID].Add(v)
	}
	return sums, rows.Err()
}

// GetDbStateCounts counts persisted orders per state.
func (r *Relayer) GetDbStateCounts() (map[string]int64, error) {
	rows, err := r.db.Query(`
        SELECT state, COUNT(*)
        FROM orders
        GROUP BY state
    `)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
