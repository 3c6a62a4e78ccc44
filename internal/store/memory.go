package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/model"
)

// MemoryStore implements Store with mutex-guarded maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu              sync.RWMutex
	startingBalance decimal.Decimal
	markets         map[string]*model.Market
	accounts        map[string]*model.Account
	positions       map[string]*model.Position // userID|marketID|side
	records         []model.TransactionRecord
}

// NewMemoryStore creates an in-memory store. New accounts start with the
// given balance.
func NewMemoryStore(startingBalance decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		startingBalance: startingBalance,
		markets:         make(map[string]*model.Market),
		accounts:        make(map[string]*model.Account),
		positions:       make(map[string]*model.Position),
	}
}

func posKey(userID, marketID string, side model.Side) string {
	return userID + "|" + marketID + "|" + string(side)
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return ErrDuplicateMarket
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) EnsureAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.ensureAccountLocked(userID)
	cp := *acc
	return &cp, nil
}

// ensureAccountLocked requires s.mu held for writing.
func (s *MemoryStore) ensureAccountLocked(userID string) *model.Account {
	if acc, ok := s.accounts[userID]; ok {
		return acc
	}
	acc := &model.Account{
		UserID:    userID,
		Balance:   s.startingBalance,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[userID] = acc
	return acc
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].UserID < accounts[j].UserID
	})
	return accounts, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[posKey(userID, marketID, side)]; ok {
		cp := *p
		return &cp, nil
	}
	return &model.Position{
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		Shares:    decimal.Zero,
		CostBasis: decimal.Zero,
	}, nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Shares.GreaterThan(decimal.Zero) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID == out[j].MarketID {
			return out[i].Side < out[j].Side
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out, nil
}

func (s *MemoryStore) CountUserTradesSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countTradesLocked(userID, since), nil
}

// countTradesLocked requires s.mu held at least for reading.
func (s *MemoryStore) countTradesLocked(userID string, since time.Time) int {
	count := 0
	for _, r := range s.records {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count
}

func (s *MemoryStore) ListTransactionsByMarket(_ context.Context, marketID string) ([]model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TransactionRecord
	for _, r := range s.records {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TransactionRecord
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// CommitTrade applies a validated order under the single write lock, so
// the quota re-count, balance check, and every mutation are one atomic
// step. Nothing is mutated on any failure path.
func (s *MemoryStore) CommitTrade(_ context.Context, commit TradeCommit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := commit.Record

	market, ok := s.markets[rec.MarketID]
	if !ok {
		return 0, ErrMarketNotFound
	}
	if market.Closed {
		return 0, ErrMarketClosed
	}

	today := s.countTradesLocked(rec.UserID, commit.DayStart)
	if today >= commit.DailyCap {
		return 0, ErrQuotaExhausted
	}

	acc := s.ensureAccountLocked(rec.UserID)
	newBalance := acc.Balance.Add(commit.CashDelta)
	if newBalance.IsNegative() {
		return 0, ErrInsufficientFunds
	}

	key := posKey(rec.UserID, rec.MarketID, rec.Side)
	pos, ok := s.positions[key]
	if !ok {
		pos = &model.Position{
			UserID:    rec.UserID,
			MarketID:  rec.MarketID,
			Side:      rec.Side,
			Shares:    decimal.Zero,
			CostBasis: decimal.Zero,
		}
	}
	newShares := pos.Shares.Add(commit.ShareDelta)
	if newShares.IsNegative() {
		return 0, ErrInsufficientShares
	}

	// All checks passed: apply everything.
	acc.Balance = newBalance
	pos.Shares = newShares
	pos.CostBasis = pos.CostBasis.Add(commit.CostBasisDelta)
	if pos.CostBasis.IsNegative() {
		pos.CostBasis = decimal.Zero
	}
	s.positions[key] = pos
	market.PoolYes = commit.NewPoolYes
	market.PoolNo = commit.NewPoolNo
	s.records = append(s.records, rec)

	return today + 1, nil
}

func (s *MemoryStore) ResolveMarket(_ context.Context, marketID string, outcome model.Outcome, resolvedAt time.Time) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	market, ok := s.markets[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	if market.Closed {
		return nil, ErrAlreadyResolved
	}

	settlement := &Settlement{
		MarketID:   marketID,
		Outcome:    outcome,
		TotalPaid:  decimal.Zero,
		ResolvedAt: resolvedAt,
	}

	for _, p := range s.positions {
		if p.MarketID != marketID {
			continue
		}
		if p.Side == model.Side(outcome) && p.Shares.GreaterThan(decimal.Zero) {
			acc := s.ensureAccountLocked(p.UserID)
			acc.Balance = acc.Balance.Add(p.Shares)
			settlement.TotalPaid = settlement.TotalPaid.Add(p.Shares)
			settlement.Winners++
		}
		// Both winning (paid out) and losing positions end at zero.
		p.Shares = decimal.Zero
		p.CostBasis = decimal.Zero
	}

	market.Closed = true
	market.Outcome = outcome
	ts := resolvedAt
	market.ResolvedAt = &ts
	return settlement, nil
}

func (s *MemoryStore) VoidMarket(_ context.Context, marketID string) (*VoidSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	market, ok := s.markets[marketID]
	if !ok {
		return nil, ErrMarketNotFound
	}
	if market.Closed {
		return nil, ErrMarketClosed
	}

	// Net cash movement per user across the market's whole history:
	// buys are credited back gross, sell payouts are clawed back.
	net := make(map[string]decimal.Decimal)
	kept := s.records[:0]
	reversed := 0
	for _, r := range s.records {
		if r.MarketID != marketID {
			kept = append(kept, r)
			continue
		}
		reversed++
		if r.Action == model.ActionBuy {
			net[r.UserID] = net[r.UserID].Add(r.Cash)
		} else {
			net[r.UserID] = net[r.UserID].Sub(r.Cash)
		}
	}

	refunded := decimal.Zero
	for userID, delta := range net {
		acc := s.ensureAccountLocked(userID)
		newBalance := acc.Balance.Add(delta)
		if newBalance.IsNegative() {
			// Negative balance protection: never claw back beyond zero.
			delta = acc.Balance.Neg()
			newBalance = decimal.Zero
		}
		acc.Balance = newBalance
		refunded = refunded.Add(delta)
	}

	s.records = kept
	for key, p := range s.positions {
		if p.MarketID == marketID {
			delete(s.positions, key)
		}
	}
	delete(s.markets, marketID)

	return &VoidSummary{
		MarketID:     marketID,
		Reversed:     reversed,
		CashRefunded: refunded,
	}, nil
}
