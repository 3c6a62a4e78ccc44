// Package store defines the ledger: authoritative persistence for markets,
// accounts, positions, and the append-only transaction log. Implementations
// include PostgreSQL (source of truth), Redis (read-through cache), and
// in-memory (for testing and development).
//
// The store is the only component permitted to mutate ledger state. Every
// mutating operation is atomic: either all of its effects are visible or
// none are.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/model"
)

var (
	// ErrMarketNotFound is returned for an unknown market id.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrDuplicateMarket is returned when creating a market whose id
	// already exists.
	ErrDuplicateMarket = errors.New("store: market already exists")

	// ErrMarketClosed is returned when trading against a resolved market.
	ErrMarketClosed = errors.New("store: market is closed")

	// ErrAlreadyResolved is returned when resolving a closed market again.
	ErrAlreadyResolved = errors.New("store: market already resolved")

	// ErrAccountNotFound is returned for an unknown user id.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrInsufficientFunds is returned when a commit would drive a cash
	// balance negative. No mutation is applied.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrInsufficientShares is returned when a commit would drive a share
	// count negative. No mutation is applied.
	ErrInsufficientShares = errors.New("store: insufficient shares")

	// ErrQuotaExhausted is returned by CommitTrade when the atomic
	// re-count finds the user's daily cap already consumed.
	ErrQuotaExhausted = errors.New("store: daily order cap reached")

	// ErrConflict is returned on lock or serialization contention. The
	// whole operation is safe to retry from the quoting step.
	ErrConflict = errors.New("store: concurrent modification, retry")
)

// TradeCommit carries every mutation of one validated order. The store
// applies all of it atomically: cash, shares, pools, the transaction
// record, and the quota re-check.
type TradeCommit struct {
	Record model.TransactionRecord

	// CashDelta is applied to the account balance: negative for a buy
	// (gross investment out), positive for a sell (net payout in).
	CashDelta decimal.Decimal

	// ShareDelta is applied to the (user, market, side) position:
	// positive for a buy, negative for a sell.
	ShareDelta decimal.Decimal

	// CostBasisDelta adjusts the position's running cost basis: the cash
	// spent on a buy, minus the proportional reduction on a sell.
	CostBasisDelta decimal.Decimal

	// NewPoolYes/NewPoolNo replace the market's pool pair.
	NewPoolYes decimal.Decimal
	NewPoolNo  decimal.Decimal

	// DailyCap and DayStart drive the quota re-check inside the commit:
	// if the user already has DailyCap records at or after DayStart, the
	// commit fails with ErrQuotaExhausted.
	DailyCap int
	DayStart time.Time
}

// Settlement summarizes a market resolution.
type Settlement struct {
	MarketID    string          `json:"market_id"`
	Outcome     model.Outcome   `json:"outcome"`
	Winners     int             `json:"winners"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// VoidSummary summarizes a void-and-refund.
type VoidSummary struct {
	MarketID     string          `json:"market_id"`
	Reversed     int             `json:"records_reversed"`
	CashRefunded decimal.Decimal `json:"cash_refunded"` // net cash returned to traders
}

// Store is the ledger interface. PostgreSQL is the source of truth; Redis
// provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market with its seed pools.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Account operations ---

	// EnsureAccount returns the user's account, creating it with the
	// configured starting balance on first touch.
	EnsureAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetAccount retrieves an existing account.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// ListAccounts returns every account.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Position queries ---

	// GetPosition returns the (user, market, side) position; a zero-share
	// position when none exists.
	GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error)

	// ListPositionsByUser returns the user's positions with shares > 0.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable transaction log ---

	// CountUserTradesSince counts the user's committed records at or
	// after the given instant. Used for quota pre-checks.
	CountUserTradesSince(ctx context.Context, userID string, since time.Time) (int, error)

	// ListTransactionsByMarket returns a market's records, oldest first.
	ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.TransactionRecord, error)

	// ListTransactionsByUser returns a user's records, oldest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.TransactionRecord, error)

	// --- Atomic mutations ---

	// CommitTrade applies one validated order: balance, position, pools,
	// record, quota. Returns the user's committed-order count for the
	// day including this trade. All five effects or none.
	CommitTrade(ctx context.Context, commit TradeCommit) (todayCount int, err error)

	// ResolveMarket closes an open market with the given outcome, pays
	// $1 per winning share, and zeroes the market's positions.
	ResolveMarket(ctx context.Context, marketID string, outcome model.Outcome, resolvedAt time.Time) (*Settlement, error)

	// VoidMarket unwinds every record of an open market (credit buys
	// back, claw sells back), then deletes the market, its positions,
	// and its records.
	VoidMarket(ctx context.Context, marketID string) (*VoidSummary, error)
}
