package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// CoinGeckoPrices is the simple/price response: id -> currency -> price.
type CoinGeckoPrices map[string]struct {
	USD decimal.Decimal `json:"usd"`
}

// PriceFeed fetches USD market prices from a CoinGecko compatible API.
type PriceFeed struct {
	apiUrl  string
	key     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewPriceFeed(cfg PriceFeedEntry, logger *zerolog.Logger) *PriceFeed {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	return &PriceFeed{
		apiUrl:  strings.TrimSuffix(cfg.ApiUrl, "/"),
		key:     cfg.Key,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:  logger,
	}
}

// USDPrices returns the USD price of every requested id.
func (p *PriceFeed) USDPrices(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no price ids", swaperr.ErrInvalidParams)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiUrl+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if p.key != "" {
		req.Header.Set("x-cg-demo-api-key", p.key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var data CoinGeckoPrices
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		price, ok := data[id]
		if !ok || !price.USD.IsPositive() {
			return nil, fmt.Errorf("no usd price for %s", id)
		}
		out[id] = price.USD
	}
	p.logger.Debug().Strs("ids", ids).Msg("fetched usd prices")
	return out, nil
}

// Rate is the market exchange rate of base in units of quote.
func (p *PriceFeed) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	prices, err := p.USDPrices(ctx, base, quote)
	if err != nil {
		return decimal.Zero, err
	}
	return prices[base].Div(prices[quote]), nil
}

// SuggestAuction builds auction params whose curve starts slippageBps below
// the market rate and ends at it.
func SuggestAuction(marketRate decimal.Decimal, slippageBps, start, duration uint64) (auction.Params, error) {
	if !marketRate.IsPositive() {
		return auction.Params{}, fmt.Errorf("%w: market rate %s", swaperr.ErrInvalidParams, marketRate)
	}
	if slippageBps >= 10_000 {
		return auction.Params{}, fmt.Errorf("%w: slippage %d bps", swaperr.ErrInvalidParams, slippageBps)
	}

	end := marketRate.Shift(auction.PriceDecimals).Floor()
	if !end.IsPositive() || end.GreaterThan(decimal.NewFromUint64(1<<63-1)) {
		return auction.Params{}, fmt.Errorf("%w: market rate %s", swaperr.ErrAmountOverflow, marketRate)
	}
	startPrice := end.Mul(decimal.NewFromUint64(10_000 - slippageBps)).Div(decimal.NewFromInt(10_000)).Floor()

	p := auction.Params{
		StartPrice: uint64(startPrice.IntPart()),
		EndPrice:   uint64(end.IntPart()),
		StartTime:  start,
		Duration:   duration,
	}
	if err := p.Validate(); err != nil {
		return auction.Params{}, err
	}
	return p, nil
}

// FormatPrice renders a fixed-point auction price as a decimal string.
func FormatPrice(price uint64) string {
	return decimal.NewFromUint64(price).Shift(-auction.PriceDecimals).String()
}
