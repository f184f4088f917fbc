package relayer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/msalopek/swap_relayer/timelock"
)

// JsonOrder is the wire form of an order. Amounts are decimal strings so
// 256-bit values survive JSON.
type JsonOrder struct {
	Salt             string             `json:"salt"`
	Maker            string             `json:"maker"`
	Receiver         string             `json:"receiver,omitempty"`
	MakerAsset       string             `json:"maker_asset"`
	TakerAsset       string             `json:"taker_asset"`
	MakingAmount     string             `json:"making_amount"`
	TakingAmount     string             `json:"taking_amount"`
	Deadline         uint64             `json:"deadline"`
	Nonce            uint64             `json:"nonce"`
	SrcChainID       uint64             `json:"src_chain_id"`
	DstChainID       uint64             `json:"dst_chain_id"`
	AuctionStartTime uint64             `json:"auction_start_time"`
	AuctionEndTime   uint64             `json:"auction_end_time"`
	StartPrice       uint64             `json:"start_price"`
	EndPrice         uint64             `json:"end_price"`
	Hashlock         string             `json:"hashlock"`
	Timelocks        timelock.Durations `json:"timelocks"`
}

func fromOrder(o swap.Order) JsonOrder {
	return JsonOrder{
		Salt:             decString(o.Salt),
		Maker:            o.Maker,
		Receiver:         o.Receiver,
		MakerAsset:       o.MakerAsset,
		TakerAsset:       o.TakerAsset,
		MakingAmount:     decString(o.MakingAmount),
		TakingAmount:     decString(o.TakingAmount),
		Deadline:         o.Deadline,
		Nonce:            o.Nonce,
		SrcChainID:       o.SrcChainID,
		DstChainID:       o.DstChainID,
		AuctionStartTime: o.AuctionStartTime,
		AuctionEndTime:   o.AuctionEndTime,
		StartPrice:       o.StartPrice,
		EndPrice:         o.EndPrice,
		Hashlock:         o.Hashlock.Hex(),
		Timelocks:        o.Timelocks,
	}
}

func (j JsonOrder) ToOrder() (swap.Order, error) {
	salt, err := parseAmount(j.Salt, true)
	if err != nil {
		return swap.Order{}, fmt.Errorf("salt: %w", err)
	}
	making, err := parseAmount(j.MakingAmount, false)
	if err != nil {
		return swap.Order{}, fmt.Errorf("making_amount: %w", err)
	}
	taking, err := parseAmount(j.TakingAmount, false)
	if err != nil {
		return swap.Order{}, fmt.Errorf("taking_amount: %w", err)
	}
	hashlock, err := parseHash(j.Hashlock)
	if err != nil {
		return swap.Order{}, fmt.Errorf("hashlock: %w", err)
	}
	return swap.Order{
		Salt:             salt,
		Maker:            j.Maker,
		Receiver:         j.Receiver,
		MakerAsset:       j.MakerAsset,
		TakerAsset:       j.TakerAsset,
		MakingAmount:     making,
		TakingAmount:     taking,
		Deadline:         j.Deadline,
		Nonce:            j.Nonce,
		SrcChainID:       j.SrcChainID,
		DstChainID:       j.DstChainID,
		AuctionStartTime: j.AuctionStartTime,
		AuctionEndTime:   j.AuctionEndTime,
		StartPrice:       j.StartPrice,
		EndPrice:         j.EndPrice,
		Hashlock:         hashlock,
		Timelocks:        j.Timelocks,
	}, nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// parseAmount parses a base-10 amount. An empty string is zero when
// allowEmpty is set.
func parseAmount(s string, allowEmpty bool) (*uint256.Int, error) {
	if s == "" {
		if allowEmpty {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("%w: empty amount", swaperr.ErrInvalidParams)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", swaperr.ErrInvalidParams, s, err)
	}
	return v, nil
}

// parseHash accepts exactly 32 hex-encoded bytes with a 0x prefix.
func parseHash(s string) (swap.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return swap.Hash{}, fmt.Errorf("%w: %q: %v", swaperr.ErrInvalidParams, s, err)
	}
	if len(b) != len(swap.Hash{}) {
		return swap.Hash{}, fmt.Errorf("%w: %q is %d bytes", swaperr.ErrInvalidParams, s, len(b))
	}
	return swap.Hash(b), nil
}
