package relayer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T, handler http.HandlerFunc) *PriceFeed {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := zerolog.New(os.Stdout)
	return NewPriceFeed(PriceFeedEntry{ApiUrl: srv.URL + "/", Key: "demo", RequestsPerMinute: 6000}, &logger)
}

func TestUSDPrices(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo", r.Header.Get("x-cg-demo-api-key"))
		assert.Equal(t, "ethereum,osmosis", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		fmt.Fprint(w, `{"ethereum":{"usd":3012.5},"osmosis":{"usd":0.41}}`)
	})

	prices, err := feed.USDPrices(context.Background(), "ethereum", "osmosis")
	require.NoError(t, err)
	assert.Equal(t, "3012.5", prices["ethereum"].String())
	assert.Equal(t, "0.41", prices["osmosis"].String())

	_, err = feed.USDPrices(context.Background())
	assert.ErrorIs(t, err, swaperr.ErrInvalidParams)

	_, err = feed.USDPrices(context.Background(), "ethereum", "cosmos")
	assert.ErrorContains(t, err, "cosmos")
}

func TestUSDPricesRateLimited(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := feed.Rate(context.Background(), "ethereum", "osmosis")
	assert.ErrorIs(t, err, RateLimitErr)

	feed = newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = feed.Rate(context.Background(), "ethereum", "osmosis")
	assert.ErrorContains(t, err, "code:503")
}

func TestSuggestAuction(t *testing.T) {
	p, err := SuggestAuction(decimal.RequireFromString("0.9987654321"), 50, 1_000, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(998_765), p.EndPrice)
	assert.Equal(t, uint64(993_771), p.StartPrice)
	assert.Equal(t, uint64(1_300), p.EndTime())

	// the curve starts at the worst price and reaches the market rate
	assert.Equal(t, p.StartPrice, auction.CurrentPrice(p, 1_000))
	assert.Equal(t, p.EndPrice, auction.CurrentPrice(p, 1_300))

	_, err = SuggestAuction(decimal.Zero, 50, 1_000, 300)
	assert.ErrorIs(t, err, swaperr.ErrInvalidParams)
	_, err = SuggestAuction(decimal.NewFromInt(1), 10_000, 1_000, 300)
	assert.ErrorIs(t, err, swaperr.ErrInvalidParams)
	_, err = SuggestAuction(decimal.NewFromInt(1), 50, 1_000, 0)
	assert.ErrorIs(t, err, swaperr.ErrInvalidParams)
	_, err = SuggestAuction(decimal.RequireFromString("0.0000001"), 50, 1_000, 300)
	assert.ErrorIs(t, err, swaperr.ErrAmountOverflow)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0.95", FormatPrice(950_000))
	assert.Equal(t, "1", FormatPrice(1_000_000))
	assert.Equal(t, "0", FormatPrice(0))
}
