package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claimdex/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, commit TradeCommit) (int, error) {
	today, err := s.primary.CommitTrade(ctx, commit)
	if err != nil {
		return 0, err
	}
	// Invalidate; next read re-populates with post-trade state.
	s.rdb.Del(ctx,
		marketKey(commit.Record.MarketID),
		accountKey(commit.Record.UserID),
		positionsKey(commit.Record.UserID),
	)
	return today, nil
}

func (s *CachedStore) ResolveMarket(ctx context.Context, marketID string, outcome model.Outcome, resolvedAt time.Time) (*Settlement, error) {
	settlement, err := s.primary.ResolveMarket(ctx, marketID, outcome, resolvedAt)
	if err != nil {
		return nil, err
	}
	s.invalidateMarketWide(ctx, marketID)
	return settlement, nil
}

func (s *CachedStore) VoidMarket(ctx context.Context, marketID string) (*VoidSummary, error) {
	summary, err := s.primary.VoidMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.invalidateMarketWide(ctx, marketID)
	return summary, nil
}

// invalidateMarketWide drops the market key and every account and position
// key. Settlements touch balances for users we cannot enumerate cheaply
// from the summary, so the blanket flush keeps reads consistent.
func (s *CachedStore) invalidateMarketWide(ctx context.Context, marketID string) {
	s.rdb.Del(ctx, marketKey(marketID))
	for _, pattern := range []string{"account:*", "positions:*"} {
		iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			s.rdb.Del(ctx, iter.Val())
		}
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(userID), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) EnsureAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := s.primary.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return a, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, marketID, side)
}

func (s *CachedStore) CountUserTradesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return s.primary.CountUserTradesSince(ctx, userID, since)
}

func (s *CachedStore) ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.TransactionRecord, error) {
	return s.primary.ListTransactionsByMarket(ctx, marketID)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.TransactionRecord, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func accountKey(uid string) string   { return fmt.Sprintf("account:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
