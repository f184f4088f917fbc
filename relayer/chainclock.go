package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const LATEST_BLOCK_QUERY string = "/cosmos/base/tendermint/v1beta1/blocks/latest"

// ShortBlockResp keeps only the header fields of an LCD block response.
type ShortBlockResp struct {
	Block struct {
		Header struct {
			ChainID string    `json:"chain_id"`
			Height  string    `json:"height"`
			Time    time.Time `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

// ChainClock reads "now" from the latest block of a chain so timelock checks
// use chain time rather than the relayer's wall clock. When the chain cannot
// be reached it falls back to the system clock.
type ChainClock struct {
	apiUrl   string
	client   *http.Client
	fallback Clock
	logger   *zerolog.Logger
}

func NewChainClock(apiUrl string, logger *zerolog.Logger) *ChainClock {
	return &ChainClock{
		apiUrl:   apiUrl,
		client:   &http.Client{Timeout: 5 * time.Second},
		fallback: SystemClock{},
		logger:   logger,
	}
}

func (c *ChainClock) Now(ctx context.Context) uint64 {
	if c.apiUrl == "" {
		return c.fallback.Now(ctx)
	}
	t, err := c.LatestBlockTime(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("api_url", c.apiUrl).Msg("failed to read chain time - using system clock")
		return c.fallback.Now(ctx)
	}
	return uint64(t.Unix())
}

func (c *ChainClock) LatestBlockTime(ctx context.Context) (time.Time, error) {
	url := fmt.Sprintf("%s%s", c.apiUrl, LATEST_BLOCK_QUERY)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return time.Time{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return time.Time{}, err
	}

	var data ShortBlockResp
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Debug().Str("body", string(body)).Msg("error unmarshalling block response")
		return time.Time{}, err
	}
	if data.Block.Header.Time.IsZero() {
		return time.Time{}, fmt.Errorf("block %s has no time", data.Block.Header.Height)
	}

	c.logger.Debug().
		Str("chain_id", data.Block.Header.ChainID).
		Str("height", data.Block.Header.Height).
		Msg("fetched latest block")
	return data.Block.Header.Time, nil
}
