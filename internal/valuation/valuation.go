// Package valuation marks open positions to the current pool price and
// aggregates them into net worth, leaderboard, and portfolio views. It
// only reads the ledger; a valuation never moves the pools it prices
// against.
package valuation

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/amm"
	"github.com/claimdex/market-engine/internal/model"
	"github.com/claimdex/market-engine/internal/store"
)

// Service computes mark-to-market valuations.
type Service struct {
	store store.Store
}

// NewService creates a valuation service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// NetWorth is a user's cash balance plus the marked value of their open
// positions.
type NetWorth struct {
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	NetWorth       decimal.Decimal `json:"net_worth"`
}

// PositionView is one open position marked to the current price.
type PositionView struct {
	MarketID      string          `json:"market_id"`
	Question      string          `json:"question"`
	Side          model.Side      `json:"side"`
	Shares        decimal.Decimal `json:"shares"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio is the full valuation of one user.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Positions     []PositionView  `json:"positions"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	NetWorth      decimal.Decimal `json:"net_worth"`
}

// LeaderboardEntry is one row of the net-worth ranking: cash and marked
// position value broken out, plus their sum.
type LeaderboardEntry struct {
	Rank           int             `json:"rank"`
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	NetWorth       decimal.Decimal `json:"net_worth"`
}

// netWorth values every open position at the current pool price. Markets
// that disappeared under the position (voided) are skipped; resolved
// markets carry no open positions by construction.
func (s *Service) netWorth(ctx context.Context, userID string) (*NetWorth, error) {
	account, err := s.store.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions, err := s.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	value := decimal.Zero
	for _, p := range positions {
		market, err := s.store.GetMarket(ctx, p.MarketID)
		if err != nil {
			continue
		}
		if market.Closed {
			continue
		}
		price := amm.Price(market.PoolYes, market.PoolNo, p.Side)
		value = value.Add(p.Shares.Mul(price))
	}

	return &NetWorth{
		UserID:         userID,
		Balance:        account.Balance,
		PositionsValue: value,
		NetWorth:       account.Balance.Add(value),
	}, nil
}

// GetNetWorth handles GET /api/v1/networth/{userID}
func (s *Service) GetNetWorth(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	nw, err := s.netWorth(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to compute net worth", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(nw)
}

// GetLeaderboard handles GET /api/v1/leaderboard
// Ranks every account by net worth, highest first; ties break by user id
// so the ordering is deterministic.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}

	entries := make([]LeaderboardEntry, 0, len(accounts))
	for _, a := range accounts {
		nw, err := s.netWorth(ctx, a.UserID)
		if err != nil {
			writeError(w, "failed to compute net worth", http.StatusInternalServerError)
			return
		}
		entries = append(entries, LeaderboardEntry{
			UserID:         a.UserID,
			Balance:        nw.Balance,
			PositionsValue: nw.PositionsValue,
			NetWorth:       nw.NetWorth,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].NetWorth.Equal(entries[j].NetWorth) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].NetWorth.GreaterThan(entries[j].NetWorth)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns each open position marked to the current price with unrealized
// P&L against its cost basis.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	account, err := s.store.EnsureAccount(ctx, userID)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	positions, err := s.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	portfolio := Portfolio{
		UserID:        userID,
		Balance:       account.Balance,
		Positions:     []PositionView{},
		TotalValue:    decimal.Zero,
		TotalCost:     decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}

	for _, p := range positions {
		market, err := s.store.GetMarket(ctx, p.MarketID)
		if err != nil || market.Closed {
			continue
		}
		price := amm.Price(market.PoolYes, market.PoolNo, p.Side)
		value := p.Shares.Mul(price)
		view := PositionView{
			MarketID:      p.MarketID,
			Question:      market.Question,
			Side:          p.Side,
			Shares:        p.Shares,
			CostBasis:     p.CostBasis,
			AvgCost:       p.AvgCost(),
			CurrentPrice:  price,
			CurrentValue:  value,
			UnrealizedPnL: value.Sub(p.CostBasis),
		}
		portfolio.Positions = append(portfolio.Positions, view)
		portfolio.TotalValue = portfolio.TotalValue.Add(value)
		portfolio.TotalCost = portfolio.TotalCost.Add(p.CostBasis)
	}
	portfolio.UnrealizedPnL = portfolio.TotalValue.Sub(portfolio.TotalCost)
	portfolio.NetWorth = portfolio.Balance.Add(portfolio.TotalValue)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
