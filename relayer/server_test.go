package relayer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	out := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestServerOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := NewServer(env.relayer, nil).Router()

	w, resp := doRequest(t, router, http.MethodPost, "/orders", fromOrder(env.order))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hash := resp["order_hash"].(string)
	assert.Equal(t, env.order.Hash().Hex(), hash)

	w, resp = doRequest(t, router, http.MethodPost, "/orders", fromOrder(env.order))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", resp["kind"])

	base := "/orders/" + hash
	env.clock.Set(1_000)

	w, resp = doRequest(t, router, http.MethodGet, base+"/price?as_integer=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "950000", resp["price"])
	w, resp = doRequest(t, router, http.MethodGet, base+"/price?at=1300", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", resp["price"])

	w, resp = doRequest(t, router, http.MethodPost, base+"/commit", CommitRequest{Resolver: "r1", Price: 1_000_000, Deposit: "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "economic", resp["kind"])

	w, resp = doRequest(t, router, http.MethodPost, base+"/commit", CommitRequest{Resolver: "r1", Price: 1_000_000, Deposit: "1000000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	// at a price of 1 the resolver owes more than the 99000000 taking amount
	assert.Equal(t, "100000000", resp["commitment"].(map[string]any)["dst_amount"])

	w, resp = doRequest(t, router, http.MethodPost, base+"/commit", CommitRequest{Resolver: "r2", Price: 1_000_000, Deposit: "1000000"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "concurrency", resp["kind"])

	sw, err := env.relayer.Swap(env.order.Hash())
	require.NoError(t, err)
	d, err := env.deployer.DeployEscrows(ctx, &env.order, "r1", sw.Remaining(), sw.Commitment.DstAmount, sw.Commitment.Deposit, 1_000)
	require.NoError(t, err)

	w, _ = doRequest(t, router, http.MethodPost, base+"/escrows", EscrowsRequest{Resolver: "r2", SrcEscrow: d.Src.Hex(), DstEscrow: d.Dst.Hex()})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = doRequest(t, router, http.MethodPost, base+"/escrows", EscrowsRequest{Resolver: "r1", SrcEscrow: d.Src.Hex(), DstEscrow: d.Dst.Hex()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "escrows_deployed", resp["state"])

	w, resp = doRequest(t, router, http.MethodPost, base+"/lock", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "funds_locked", resp["state"])

	w, _ = doRequest(t, router, http.MethodPost, base+"/secret", SecretRequest{Secret: "0x1234"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// r1 reported its escrows, so its lapsed commitment is not up for rescue
	env.clock.Set(1_070)
	w, resp = doRequest(t, router, http.MethodPost, base+"/rescue", RescueRequest{Rescuer: "freeloader", Secret: env.secret.String()})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "concurrency", resp["kind"])

	wrong := env.secret
	wrong[0] ^= 0xff
	w, resp = doRequest(t, router, http.MethodPost, base+"/secret", SecretRequest{Secret: wrong.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "integrity", resp["kind"])

	w, resp = doRequest(t, router, http.MethodPost, base+"/secret", SecretRequest{Secret: env.secret.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", resp["state"])

	w, resp = doRequest(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	order := resp["order"].(map[string]any)
	assert.Equal(t, "completed", order["state"])
	assert.Equal(t, "r1", order["resolver_of_record"])
	assert.Equal(t, env.secret.String(), order["secret"])
	assert.Equal(t, "0", order["remaining"])
	assert.Len(t, order["fills"], 1)

	w, resp = doRequest(t, router, http.MethodGet, base+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["events"], 4)

	w, resp = doRequest(t, router, http.MethodGet, "/orders?state=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["orders"], 1)

	w, resp = doRequest(t, router, http.MethodGet, "/stats/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"completed": float64(1)}, resp["orders_by_state"])

	w, resp = doRequest(t, router, http.MethodGet, "/stats/resolvers?resolver=r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := resp["resolver_stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_fill_count"])
	assert.Equal(t, "100000000", stats["total_volume"])
}

func TestServerRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	router := NewServer(env.relayer, nil).Router()

	w, _ := doRequest(t, router, http.MethodGet, "/orders/not-a-hash", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/orders/0x"+strings.Repeat("ab", 32), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/orders?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := fromOrder(env.order)
	bad.MakingAmount = "-1"
	w, _ = doRequest(t, router, http.MethodPost, "/orders", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/stats/resolvers", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/auction/suggest?base=a&quote=b", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h := env.create(t)
	w, resp := doRequest(t, router, http.MethodPost, "/orders/"+h.Hex()+"/cancel", CancelRequest{Caller: "anyone"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "timing", resp["kind"])

	w, _ = doRequest(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relayer_rejections_total")
}

func TestServerSuggestAuction(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		fmt.Fprint(w, `{"ethereum":{"usd":2000},"usd-coin":{"usd":1000}}`)
	}))
	defer upstream.Close()

	env := newTestEnv(t)
	logger := zerolog.New(os.Stdout)
	feed := NewPriceFeed(PriceFeedEntry{ApiUrl: upstream.URL, RequestsPerMinute: 600}, &logger)
	router := NewServer(env.relayer, feed).Router()

	env.clock.Set(2_000)
	w, resp := doRequest(t, router, http.MethodGet, "/auction/suggest?base=ethereum&quote=usd-coin&slippage_bps=100&duration=600", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2", resp["market_rate"])
	assert.Equal(t, "1.98", resp["start_price"])
	assert.Equal(t, "2", resp["end_price"])
	assert.Equal(t, float64(2_600), resp["end_time"])

	w, _ = doRequest(t, router, http.MethodGet, "/auction/suggest?base=ethereum&quote=usd-coin&slippage_bps=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
