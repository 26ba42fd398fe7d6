package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/auth"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/engine"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/ledger/query"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/settlement"
	"github.com/novamarket/predictcore/internal/stats"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// Handlers bundles the core collaborators every endpoint needs, grounded
// on the teacher's handlers.OrderHandler (one struct per concern, wired
// with the service it fronts plus a logger).
type Handlers struct {
	engine     *engine.Engine
	store      *ledger.Store
	settlement *settlement.Service
	authSvc    *auth.Service
	queries    *query.Queries
	logger     *zap.Logger
}

func NewHandlers(eng *engine.Engine, store *ledger.Store, settle *settlement.Service, authSvc *auth.Service, queries *query.Queries, logger *zap.Logger) *Handlers {
	return &Handlers{engine: eng, store: store, settlement: settle, authSvc: authSvc, queries: queries, logger: logger}
}

// submitOrderRequest is the wire shape of spec §6's SubmitOrder command.
type submitOrderRequest struct {
	MarketID       uuid.UUID   `json:"market_id" binding:"required"`
	Side           string      `json:"side" binding:"required,oneof=BUY SELL"`
	Kind           string      `json:"kind" binding:"required,oneof=LIMIT MARKET"`
	Outcome        string      `json:"outcome" binding:"required,oneof=YES NO"`
	Price          string      `json:"price"`
	Quantity       string      `json:"quantity" binding:"required"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// SubmitOrder handles POST /orders.
func (h *Handlers) SubmitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := userIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	qty, err := money.ParseAmount(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": xerrors.CodeInvalidQuantity})
		return
	}
	var price money.Price
	if req.Kind == "LIMIT" {
		price, err = money.ParsePrice(req.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": xerrors.CodeInvalidPrice})
			return
		}
	}

	intent := engine.OrderIntent{
		MarketID:       req.MarketID,
		UserID:         userID,
		Side:           sideOf(req.Side),
		Kind:           kindOf(req.Kind),
		Outcome:        outcomeOf(req.Outcome),
		Price:          price,
		Quantity:       qty,
		IdempotencyKey: req.IdempotencyKey,
	}

	result, err := h.engine.SubmitOrder(c.Request.Context(), intent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// CancelOrder handles DELETE /orders/:id.
func (h *Handlers) CancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	userID, err := userIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	order, err := h.store.OrderByID(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.engine.CancelOrder(c.Request.Context(), order.MarketID, orderID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetOrderBookSnapshot handles GET /markets/:id/book.
func (h *Handlers) GetOrderBookSnapshot(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	depth := 20
	snap := h.engine.Snapshot(marketID, depth)
	c.JSON(http.StatusOK, snap)
}

// GetUserBalance handles GET /me/balance.
func (h *Handlers) GetUserBalance(c *gin.Context) {
	userID, err := userIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	bal, err := h.store.BalanceView(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// GetUserPositions handles GET /me/positions.
func (h *Handlers) GetUserPositions(c *gin.Context) {
	userID, err := userIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	positions, err := h.store.PositionsView(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if positions == nil {
		positions = []ledger.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

// GetMarketStats handles GET /markets/:id/stats, the read-only stats view
// this build adds on top of the core spec (supplemented feature).
func (h *Handlers) GetMarketStats(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	rows, err := h.queries.TradeHistoryForMarket(c.Request.Context(), marketID, 500, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trade history"})
		return
	}
	c.JSON(http.StatusOK, stats.Summarize(rows))
}

// ResolveMarket handles POST /admin/markets/:id/resolve.
func (h *Handlers) ResolveMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	var body struct {
		Outcome string `json:"outcome" binding:"required,oneof=YES NO"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settlement.ResolveMarket(c.Request.Context(), marketID, outcomeOf(body.Outcome)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// CloseMarket handles POST /admin/markets/:id/close.
func (h *Handlers) CloseMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	if err := h.settlement.CloseMarket(c.Request.Context(), marketID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// Register handles POST /auth/register.
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := h.authSvc.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": userID})
}

// Login handles POST /auth/login.
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.authSvc.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func userIDFromContext(c *gin.Context) (uuid.UUID, error) {
	v, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, errors.New("missing user id")
	}
	return uuid.Parse(v.(string))
}

func sideOf(s string) domain.Side {
	if s == "SELL" {
		return domain.Sell
	}
	return domain.Buy
}

func kindOf(s string) domain.Kind {
	if s == "MARKET" {
		return domain.Market
	}
	return domain.Limit
}

func outcomeOf(s string) domain.Outcome {
	if s == "NO" {
		return domain.NO
	}
	return domain.YES
}

// writeError maps an xerrors.Error's Code onto the matching HTTP status,
// spec §7's error taxonomy made concrete at the REST boundary.
func writeError(c *gin.Context, err error) {
	code, ok := xerrors.CodeOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status := http.StatusBadRequest
	switch code {
	case xerrors.CodeUnknownMarket, xerrors.CodeUnknownOrder, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeNotOwner:
		status = http.StatusForbidden
	case xerrors.CodeMarketNotOpen, xerrors.CodeNotCancellable:
		status = http.StatusConflict
	case xerrors.CodeInsufficientBalance, xerrors.CodeInsufficientShares:
		status = http.StatusUnprocessableEntity
	case xerrors.CodeLedgerConflict, xerrors.CodeBusUnavailable:
		status = http.StatusServiceUnavailable
	case xerrors.CodeInvariantViolation:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": code})
}
