// Package trade provides the HTTP handlers and business logic for
// creating markets, executing orders against the constant-product pools,
// and querying positions and transaction history.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/amm"
	"github.com/claimdex/market-engine/internal/metrics"
	"github.com/claimdex/market-engine/internal/model"
	"github.com/claimdex/market-engine/internal/quota"
	"github.com/claimdex/market-engine/internal/store"
)

// ErrSlippageExceeded rejects an order whose execution price moved past
// the caller's bound between quoting and committing. Nothing is mutated.
var ErrSlippageExceeded = errors.New("trade: execution price exceeds slippage bound")

// Service executes orders. Per-market and per-account locks serialize the
// quote-check-commit sequence (single-instance); the store commit is
// additionally atomic, so a Postgres deployment stays correct across
// replicas via serializable transactions.
type Service struct {
	store         store.Store
	curve         *amm.Curve
	limiter       *quota.Limiter
	locks         *Locks
	seedLiquidity decimal.Decimal
	wsHub         *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, curve *amm.Curve, limiter *quota.Limiter, locks *Locks, seedLiquidity decimal.Decimal, hub *WSHub) *Service {
	return &Service{
		store:         st,
		curve:         curve,
		limiter:       limiter,
		locks:         locks,
		seedLiquidity: seedLiquidity,
		wsHub:         hub,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Question      string          `json:"question"`
	Description   string          `json:"description"`
	Topic         string          `json:"topic"`
	SeedLiquidity decimal.Decimal `json:"seed_liquidity"` // 0 → configured default
}

// OrderRequest is the JSON body for POST /orders and POST /quote.
type OrderRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Side     model.Side      `json:"side"`   // "YES" or "NO"
	Action   model.Action    `json:"action"` // "BUY" or "SELL"
	Amount   decimal.Decimal `json:"amount"` // cash for BUY, shares for SELL

	// LimitPrice is the caller's slippage bound on the post-trade price:
	// a ceiling for buys, a floor for sells. Zero disables the check.
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// QuoteResponse is the JSON body returned from POST /quote. Quotes are
// advisory; prices can move before the order commits.
type QuoteResponse struct {
	MarketID   string          `json:"market_id"`
	Side       model.Side      `json:"side"`
	Action     model.Action    `json:"action"`
	Shares     decimal.Decimal `json:"shares"`
	Cash       decimal.Decimal `json:"cash"`
	Fee        decimal.Decimal `json:"fee"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	FinalPrice decimal.Decimal `json:"final_price"`
}

// PriceResponse is the JSON body returned from GET /markets/{id}/price.
type PriceResponse struct {
	MarketID string          `json:"market_id"`
	Yes      decimal.Decimal `json:"yes"`
	No       decimal.Decimal `json:"no"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}

	seed := req.SeedLiquidity
	if seed.LessThanOrEqual(decimal.Zero) {
		seed = s.seedLiquidity
	}

	market := &model.Market{
		ID:          uuid.New().String(),
		Question:    req.Question,
		Description: req.Description,
		Topic:       req.Topic,
		PoolYes:     seed,
		PoolNo:      seed,
		Outcome:     model.OutcomePending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"question", req.Question,
		"topic", req.Topic,
		"seed", seed.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?topic=<topic>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if topic := r.URL.Query().Get("topic"); topic != "" {
		var filtered []model.Market
		for _, m := range markets {
			if m.Topic == topic {
				filtered = append(filtered, m)
			}
		}
		if filtered == nil {
			filtered = []model.Market{}
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	resp := PriceResponse{
		MarketID: market.ID,
		Yes:      amm.Price(market.PoolYes, market.PoolNo, model.SideYes),
		No:       amm.Price(market.PoolYes, market.PoolNo, model.SideNo),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns transaction records to reconstruct price history.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	records, err := s.store.ListTransactionsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// validate rejects malformed orders before any lock or store access.
func (req *OrderRequest) validate() string {
	if req.UserID == "" {
		return "user_id is required"
	}
	if req.MarketID == "" {
		return "market_id is required"
	}
	if !req.Side.Valid() {
		return "side must be YES or NO"
	}
	if req.Action != model.ActionBuy && req.Action != model.ActionSell {
		return "action must be BUY or SELL"
	}
	if !req.Amount.IsPositive() {
		return "amount must be positive"
	}
	if req.LimitPrice.IsNegative() {
		return "limit_price must not be negative"
	}
	return ""
}

// QuoteOrder handles POST /api/v1/quote
// Prices an order against the current pools without committing anything.
func (s *Service) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	market, err := s.store.GetMarket(r.Context(), req.MarketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if market.Closed {
		writeError(w, "market is closed", http.StatusConflict)
		return
	}

	resp := QuoteResponse{
		MarketID: market.ID,
		Side:     req.Side,
		Action:   req.Action,
	}
	if req.Action == model.ActionBuy {
		q, err := s.curve.Buy(market.PoolYes, market.PoolNo, req.Side, req.Amount)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		resp.Shares = q.Shares
		resp.Cash = req.Amount
		resp.Fee = q.Fee
		resp.AvgPrice = q.AvgPrice
		resp.FinalPrice = q.FinalPrice
	} else {
		q, err := s.curve.Sell(market.PoolYes, market.PoolNo, req.Side, req.Amount)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		resp.Shares = req.Amount
		resp.Cash = q.Payout
		resp.Fee = q.Fee
		resp.AvgPrice = q.AvgPrice
		resp.FinalPrice = q.FinalPrice
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ExecuteOrder handles POST /api/v1/orders
// Runs the full order sequence: validate, quote against current pools,
// check the slippage bound, then commit atomically. Any rejection leaves
// the ledger untouched.
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	unlock := s.locks.Lock(req.MarketID, req.UserID)
	defer unlock()

	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if market.Closed {
		writeError(w, "market is closed", http.StatusConflict)
		return
	}

	account, err := s.store.EnsureAccount(ctx, req.UserID)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	// Quota pre-check. The commit re-checks under the same day window, so
	// a racing order on another instance still cannot exceed the cap.
	now := time.Now().UTC()
	dayStart := quota.DayStart(now)
	todayCount, err := s.store.CountUserTradesSince(ctx, req.UserID, dayStart)
	if err != nil {
		writeError(w, "failed to check order quota", http.StatusInternalServerError)
		return
	}
	if err := s.limiter.Check(todayCount); err != nil {
		metrics.QuotaRejections.Inc()
		writeError(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	commit := store.TradeCommit{
		Record: model.TransactionRecord{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			MarketID:  req.MarketID,
			Side:      req.Side,
			Action:    req.Action,
			CreatedAt: now,
		},
		DailyCap: s.limiter.Cap(),
		DayStart: dayStart,
	}
	var avgPrice, finalPrice decimal.Decimal

	if req.Action == model.ActionBuy {
		if account.Balance.LessThan(req.Amount) {
			writeError(w, "insufficient funds", http.StatusConflict)
			return
		}
		q, err := s.curve.Buy(market.PoolYes, market.PoolNo, req.Side, req.Amount)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		if req.LimitPrice.IsPositive() && q.FinalPrice.GreaterThan(req.LimitPrice) {
			metrics.SlippageRejections.Inc()
			writeError(w, ErrSlippageExceeded.Error(), http.StatusConflict)
			return
		}
		commit.Record.Shares = q.Shares
		commit.Record.Cash = req.Amount
		commit.Record.Fee = q.Fee
		commit.Record.Price = q.AvgPrice
		commit.CashDelta = req.Amount.Neg()
		commit.ShareDelta = q.Shares
		commit.CostBasisDelta = req.Amount
		commit.NewPoolYes = q.NewPoolYes
		commit.NewPoolNo = q.NewPoolNo
		avgPrice, finalPrice = q.AvgPrice, q.FinalPrice
	} else {
		position, err := s.store.GetPosition(ctx, req.UserID, req.MarketID, req.Side)
		if err != nil {
			writeError(w, "failed to load position", http.StatusInternalServerError)
			return
		}
		if position.Shares.LessThan(req.Amount) {
			writeError(w, "insufficient shares", http.StatusConflict)
			return
		}
		q, err := s.curve.Sell(market.PoolYes, market.PoolNo, req.Side, req.Amount)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		if req.LimitPrice.IsPositive() && q.FinalPrice.LessThan(req.LimitPrice) {
			metrics.SlippageRejections.Inc()
			writeError(w, ErrSlippageExceeded.Error(), http.StatusConflict)
			return
		}
		commit.Record.Shares = req.Amount
		commit.Record.Cash = q.Payout
		commit.Record.Fee = q.Fee
		commit.Record.Price = q.AvgPrice
		commit.CashDelta = q.Payout
		commit.ShareDelta = req.Amount.Neg()
		// Reduce cost basis proportionally to the slice of the holding sold.
		commit.CostBasisDelta = position.CostBasis.Mul(req.Amount).Div(position.Shares).Neg()
		commit.NewPoolYes = q.NewPoolYes
		commit.NewPoolNo = q.NewPoolNo
		avgPrice, finalPrice = q.AvgPrice, q.FinalPrice
	}

	today, err := s.store.CommitTrade(ctx, commit)
	if err != nil {
		if errors.Is(err, store.ErrQuotaExhausted) {
			metrics.QuotaRejections.Inc()
		}
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.OrdersTotal.WithLabelValues(string(req.Side), string(req.Action)).Inc()
	metrics.OrderLatency.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(req.MarketID, string(req.Side)).Add(commit.Record.Shares.InexactFloat64())
	metrics.FeesCollected.Add(commit.Record.Fee.InexactFloat64())

	slog.Info("order committed",
		"trade_id", commit.Record.ID,
		"user", req.UserID,
		"market", req.MarketID,
		"side", req.Side,
		"action", req.Action,
		"shares", commit.Record.Shares.String(),
		"cash", commit.Record.Cash.String(),
		"fee", commit.Record.Fee.String(),
		"avg_price", avgPrice.String(),
		"final_price", finalPrice.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "order_committed",
			MarketID: req.MarketID,
			PriceYes: amm.Price(commit.NewPoolYes, commit.NewPoolNo, model.SideYes).String(),
			PriceNo:  amm.Price(commit.NewPoolYes, commit.NewPoolNo, model.SideNo).String(),
			Side:     string(req.Side),
			Action:   string(req.Action),
			Shares:   commit.Record.Shares.String(),
		})
	}

	receipt := model.Receipt{
		TradeID:        commit.Record.ID,
		UserID:         req.UserID,
		MarketID:       req.MarketID,
		Side:           req.Side,
		Action:         req.Action,
		Shares:         commit.Record.Shares,
		Cash:           commit.Record.Cash,
		Fee:            commit.Record.Fee,
		AvgPrice:       avgPrice,
		FinalPrice:     finalPrice,
		QuotaRemaining: s.limiter.Remaining(today),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// AccountResponse is the JSON body returned from GET /accounts/{userID}.
type AccountResponse struct {
	model.Account
	QuotaRemaining int `json:"quota_remaining"`
}

// GetAccount handles GET /api/v1/accounts/{userID}
// Bootstraps the account with the starting balance on first touch and
// reports how many orders the user has left today.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	account, err := s.store.EnsureAccount(ctx, userID)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	todayCount, err := s.store.CountUserTradesSince(ctx, userID, quota.DayStart(time.Now().UTC()))
	if err != nil {
		writeError(w, "failed to check order quota", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountResponse{
		Account:        *account,
		QuotaRemaining: s.limiter.Remaining(todayCount),
	})
}

// GetPositions handles GET /api/v1/positions/{userID}
// Returns the user's open positions across all markets.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	positions, err := s.store.ListPositionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// MarketPositionResponse is the JSON body for the per-market position
// query: the user's share count on each side, zero when never traded.
type MarketPositionResponse struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Yes      decimal.Decimal `json:"yes"`
	No       decimal.Decimal `json:"no"`
}

// GetMarketPosition handles GET /api/v1/positions/{userID}/{marketID}
// Returns both side counts for one market, including zeroed sides the
// all-markets listing hides.
func (s *Service) GetMarketPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	yes, err := s.store.GetPosition(ctx, userID, marketID, model.SideYes)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	no, err := s.store.GetPosition(ctx, userID, marketID, model.SideNo)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MarketPositionResponse{
		UserID:   userID,
		MarketID: marketID,
		Yes:      yes.Shares,
		No:       no.Shares,
	})
}

// GetUserHistory handles GET /api/v1/users/{userID}/history
func (s *Service) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	records, err := s.store.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to get user history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// statusFor maps business rejections to HTTP statuses. Unknown errors are
// treated as storage faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, amm.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrMarketNotFound),
		errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrQuotaExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, store.ErrMarketClosed),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrInsufficientShares),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, amm.ErrLiquidityExceeded),
		errors.Is(err, ErrSlippageExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
