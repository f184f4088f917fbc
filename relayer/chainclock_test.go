package relayer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, LATEST_BLOCK_QUERY, r.URL.Path)
		fmt.Fprint(w, `{"block":{"header":{"chain_id":"osmosis-1","height":"123","time":"2024-12-01T10:00:00.5Z"}}}`)
	}))
	defer srv.Close()

	logger := zerolog.New(os.Stdout)
	clock := NewChainClock(srv.URL, &logger)

	ts, err := clock.LatestBlockTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1733047200), ts.Unix())
	assert.Equal(t, uint64(1733047200), clock.Now(context.Background()))
}

func TestChainClockFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	logger := zerolog.New(os.Stdout)
	clock := NewChainClock(srv.URL, &logger)

	_, err := clock.LatestBlockTime(context.Background())
	assert.ErrorIs(t, err, RateLimitErr)

	before := uint64(time.Now().Unix())
	now := clock.Now(context.Background())
	assert.GreaterOrEqual(t, now, before)
	assert.LessOrEqual(t, now, uint64(time.Now().Unix()))

	empty := NewChainClock("", &logger)
	assert.GreaterOrEqual(t, empty.Now(context.Background()), before)
}

func TestChainClockRejectsMissingTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"block":{"header":{"chain_id":"osmosis-1","height":"7"}}}`)
	}))
	defer srv.Close()

	logger := zerolog.New(os.Stdout)
	_, err := NewChainClock(srv.URL, &logger).LatestBlockTime(context.Background())
	assert.ErrorContains(t, err, "block 7 has no time")
}
