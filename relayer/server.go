package relayer

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
)

type Server struct {
	relayer *Relayer
	feed    *PriceFeed
}

// NewServer builds the HTTP API. feed may be nil, which disables
// /auction/suggest.
func NewServer(relayer *Relayer, feed *PriceFeed) *Server {
	return &Server{
		relayer: relayer,
		feed:    feed,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/orders", s.createOrder)
	router.GET("/orders", s.listOrders)
	router.GET("/orders/:hash", s.getOrder)
	router.GET("/orders/:hash/price", s.getPrice)
	router.GET("/orders/:hash/events", s.getEvents)
	router.POST("/orders/:hash/commit", s.commit)
	router.POST("/orders/:hash/escrows", s.reportEscrows)
	router.POST("/orders/:hash/lock", s.lockFunds)
	router.POST("/orders/:hash/secret", s.revealSecret)
	router.POST("/orders/:hash/rescue", s.rescue)
	router.POST("/orders/:hash/cancel", s.cancel)
	router.GET("/stats/resolvers", s.getResolverStats)
	router.GET("/stats/orders", s.getOrderStats)
	router.GET("/auction/suggest", s.suggestAuction)
	router.GET("/metrics", gin.WrapH(s.relayer.metrics.Handler()))
	return router
}

func (s *Server) RunWithContext(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	// Graceful server shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.relayer.logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// statusFor maps an error kind to an HTTP status. Unclassified errors come
// from a chain or another collaborator.
func statusFor(err error) int {
	switch {
	case errors.Is(err, swaperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, swaperr.ErrUnauthorized):
		return http.StatusForbidden
	}
	switch swaperr.KindOf(err) {
	case swaperr.KindValidation:
		return http.StatusBadRequest
	case swaperr.KindTiming, swaperr.KindConcurrency:
		return http.StatusConflict
	case swaperr.KindEconomic, swaperr.KindIntegrity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": swaperr.KindOf(err).String()})
}

func (s *Server) orderHash(c *gin.Context) (swap.Hash, bool) {
	h, err := parseHash(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order hash"})
		return swap.Hash{}, false
	}
	return h, true
}

type CommitmentResponse struct {
	Resolver    string `json:"resolver"`
	Price       string `json:"price"`
	Deposit     string `json:"deposit"`
	FillAmount  string `json:"fill_amount"`
	DstAmount   string `json:"dst_amount"`
	CommittedAt uint64 `json:"committed_at"`
	ExpiresAt   uint64 `json:"expires_at"`
	Reported    bool   `json:"reported"`
	Rescue      bool   `json:"rescue"`
}

type FillResponse struct {
	Resolver     string `json:"resolver"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	SrcEscrow    string `json:"src_escrow"`
	DstEscrow    string `json:"dst_escrow"`
	ReportedAt   uint64 `json:"reported_at"`
	SrcLocked    bool   `json:"src_locked"`
	DstWithdrawn bool   `json:"dst_withdrawn"`
	SrcCancelled bool   `json:"src_cancelled"`
}

type SwapResponse struct {
	OrderHash        string              `json:"order_hash"`
	State            string              `json:"state"`
	Order            JsonOrder           `json:"order"`
	TotalFilled      string              `json:"total_filled"`
	Remaining        string              `json:"remaining"`
	ResolverOfRecord string              `json:"resolver_of_record,omitempty"`
	Rescuer          string              `json:"rescuer,omitempty"`
	Commitment       *CommitmentResponse `json:"commitment,omitempty"`
	Fills            []FillResponse      `json:"fills"`
	Secret           string              `json:"secret,omitempty"`
	Forfeited        string              `json:"forfeited"`
	CreatedAt        uint64              `json:"created_at"`
	UpdatedAt        uint64              `json:"updated_at"`
}

// formatPrice honors the as_integer query flag: fixed-point integers as-is,
// otherwise shifted by the price decimals.
func formatPrice(price uint64, asInteger bool) string {
	if asInteger {
		return strconv.FormatUint(price, 10)
	}
	return FormatPrice(price)
}

func toSwapResponse(sw settlement.Swap, asInteger bool) SwapResponse {
	resp := SwapResponse{
		OrderHash:        sw.OrderHash.Hex(),
		State:            sw.State.String(),
		Order:            fromOrder(sw.Order),
		TotalFilled:      sw.TotalFilled.Dec(),
		Remaining:        sw.Remaining().Dec(),
		ResolverOfRecord: sw.ResolverOfRecord,
		Rescuer:          sw.Rescuer,
		Fills:            []FillResponse{},
		Forfeited:        sw.Forfeited.Dec(),
		CreatedAt:        sw.CreatedAt,
		UpdatedAt:        sw.UpdatedAt,
	}
	if cm := sw.Commitment; cm != nil {
		resp.Commitment = &CommitmentResponse{
			Resolver:    cm.Resolver,
			Price:       formatPrice(cm.Price, asInteger),
			Deposit:     cm.Deposit.Dec(),
			FillAmount:  cm.FillAmount.Dec(),
			DstAmount:   cm.DstAmount.Dec(),
			CommittedAt: cm.CommittedAt,
			ExpiresAt:   cm.ExpiresAt,
			Reported:    cm.Reported,
			Rescue:      cm.Rescue,
		}
	}
	for _, f := range sw.Fills {
		resp.Fills = append(resp.Fills, FillResponse{
			Resolver:     f.Resolver,
			Amount:       f.Amount.Dec(),
			Price:        formatPrice(f.Price, asInteger),
			SrcEscrow:    f.SrcEscrow.Hex(),
			DstEscrow:    f.DstEscrow.Hex(),
			ReportedAt:   f.ReportedAt,
			SrcLocked:    f.SrcLocked,
			DstWithdrawn: f.DstWithdrawn,
			SrcCancelled: f.SrcCancelled,
		})
	}
	if sw.Secret != nil {
		resp.Secret = sw.Secret.String()
	}
	return resp
}

func (s *Server) createOrder(c *gin.Context) {
	var req JsonOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order body"})
		return
	}
	order, err := req.ToOrder()
	if err != nil {
		abort(c, err)
		return
	}
	h, err := s.relayer.CreateOrder(c.Request.Context(), order)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_hash": h.Hex()})
}

func (s *Server) listOrders(c *gin.Context) {
	var filter *settlement.State
	if name := c.Query("state"); name != "" {
		st, err := settlement.ParseState(name)
		if err != nil {
			abort(c, err)
			return
		}
		filter = &st
	}
	asInteger := c.Query("as_integer") != ""

	swaps := s.relayer.Swaps(filter)
	resp := make([]SwapResponse, 0, len(swaps))
	for _, sw := range swaps {
		resp = append(resp, toSwapResponse(sw, asInteger))
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}

func (s *Server) getOrder(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	sw, err := s.relayer.Swap(h)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toSwapResponse(sw, c.Query("as_integer") != "")})
}

func (s *Server) getPrice(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	var at uint64
	if v := c.Query("at"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid at, expected unix seconds"})
			return
		}
		at = parsed
	}
	price, at, err := s.relayer.Price(c.Request.Context(), h, at)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": formatPrice(price, c.Query("as_integer") != ""), "at": at})
}

func (s *Server) getEvents(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	events, err := ReadSwapEvents(s.relayer.db, h.Hex())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type CommitRequest struct {
	Resolver   string `json:"resolver"`
	Price      uint64 `json:"price"`
	Deposit    string `json:"deposit"`
	FillAmount string `json:"fill_amount,omitempty"`
}

func (s *Server) commit(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid commit body"})
		return
	}
	deposit, err := parseAmount(req.Deposit, true)
	if err != nil {
		abort(c, err)
		return
	}
	fill, err := parseAmount(req.FillAmount, true)
	if err != nil {
		abort(c, err)
		return
	}

	cm, err := s.relayer.Commit(c.Request.Context(), h, settlement.CommitRequest{
		Resolver:   req.Resolver,
		Price:      req.Price,
		Deposit:    deposit,
		FillAmount: fill,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commitment": CommitmentResponse{
		Resolver:    cm.Resolver,
		Price:       formatPrice(cm.Price, c.Query("as_integer") != ""),
		Deposit:     cm.Deposit.Dec(),
		FillAmount:  cm.FillAmount.Dec(),
		DstAmount:   cm.DstAmount.Dec(),
		CommittedAt: cm.CommittedAt,
		ExpiresAt:   cm.ExpiresAt,
	}})
}

type EscrowsRequest struct {
	Resolver  string `json:"resolver"`
	SrcEscrow string `json:"src_escrow"`
	DstEscrow string `json:"dst_escrow"`
}

func (s *Server) reportEscrows(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	var req EscrowsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escrows body"})
		return
	}
	src, err := parseHash(req.SrcEscrow)
	if err != nil {
		abort(c, err)
		return
	}
	dst, err := parseHash(req.DstEscrow)
	if err != nil {
		abort(c, err)
		return
	}
	if err := s.relayer.ReportEscrows(c.Request.Context(), h, req.Resolver, src, dst); err != nil {
		abort(c, err)
		return
	}
	s.respondState(c, h)
}

func (s *Server) lockFunds(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	if err := s.relayer.LockUserFunds(c.Request.Context(), h); err != nil {
		abort(c, err)
		return
	}
	s.respondState(c, h)
}

type SecretRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) revealSecret(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	var req SecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid secret body"})
		return
	}
	secret, err := swap.ParseSecret(req.Secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.relayer.Complete(c.Request.Context(), h, secret); err != nil {
		abort(c, err)
		return
	}
	s.respondState(c, h)
}

type RescueRequest struct {
	Rescuer string `json:"rescuer"`
	Deposit string `json:"deposit"`
	Price   uint64 `json:"price,omitempty"`
	Secret  string `json:"secret"`
}

func (s *Server) rescue(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	var req RescueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rescue body"})
		return
	}
	deposit, err := parseAmount(req.Deposit, true)
	if err != nil {
		abort(c, err)
		return
	}
	secret, err := swap.ParseSecret(req.Secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.relayer.Rescue(c.Request.Context(), h, req.Rescuer, deposit, req.Price, secret); err != nil {
		abort(c, err)
		return
	}
	s.respondState(c, h)
}

type CancelRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) cancel(c *gin.Context) {
	h, ok := s.orderHash(c)
	if !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cancel body"})
		return
	}
	if err := s.relayer.Cancel(c.Request.Context(), h, req.Caller); err != nil {
		abort(c, err)
		return
	}
	s.respondState(c, h)
}

func (s *Server) respondState(c *gin.Context, h swap.Hash) {
	sw, err := s.relayer.Swap(h)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_hash": h.Hex(), "state": sw.State.String()})
}

func (s *Server) getResolverStats(c *gin.Context) {
	resolver := c.Query("resolver")
	if resolver == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolver address is required"})
		return
	}
	stats, err := s.relayer.GetDbResolverStats(resolver)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolver_stats": stats})
}

func (s *Server) getOrderStats(c *gin.Context) {
	counts, err := s.relayer.GetDbStateCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders_by_state": counts})
}

// suggestAuction prices a new order from the market rate of base in quote.
func (s *Server) suggestAuction(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price feed not configured"})
		return
	}
	base, quote := c.Query("base"), c.Query("quote")
	if base == "" || quote == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base and quote are required"})
		return
	}
	slippage, err := strconv.ParseUint(c.DefaultQuery("slippage_bps", "50"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slippage_bps"})
		return
	}
	duration, err := strconv.ParseUint(c.DefaultQuery("duration", "300"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
		return
	}

	rate, err := s.feed.Rate(c.Request.Context(), base, quote)
	if errors.Is(err, RateLimitErr) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "price feed rate limited"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to get market rate"})
		return
	}

	params, err := SuggestAuction(rate, slippage, s.relayer.Now(c.Request.Context()), duration)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"market_rate": rate.String(),
		"auction":     params,
		"start_price": FormatPrice(params.StartPrice),
		"end_price":   FormatPrice(params.EndPrice),
		"end_time":    params.EndTime(),
		"decimals":    auction.PriceDecimals,
	})
}
