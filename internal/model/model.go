// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one of the two claims on a market question.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Action is the direction of an executed order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Outcome is the resolution state of a market. Open markets are PENDING.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeYes     Outcome = "YES"
	OutcomeNo      Outcome = "NO"
)

// Market is one binary-outcome question with its two liquidity pools.
// The pools are the authoritative pricing state: the implied price of a
// side is oppositePool / (poolYes + poolNo). Both pools stay strictly
// positive for the whole life of an open market.
type Market struct {
	ID          string          `json:"id" db:"id"`
	Question    string          `json:"question" db:"question"`
	Description string          `json:"description,omitempty" db:"description"`
	Topic       string          `json:"topic,omitempty" db:"topic"`
	PoolYes     decimal.Decimal `json:"pool_yes" db:"pool_yes"`
	PoolNo      decimal.Decimal `json:"pool_no" db:"pool_no"`
	Closed      bool            `json:"closed" db:"closed"`
	Outcome     Outcome         `json:"outcome" db:"outcome"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Pool returns the pool backing the given side.
func (m *Market) Pool(side Side) decimal.Decimal {
	if side == SideYes {
		return m.PoolYes
	}
	return m.PoolNo
}

// Account holds one user's play-money cash balance. Balances never go
// negative; any mutation that would is rejected before commit.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position is one user's share count on one side of one market, with an
// incrementally maintained cost basis (net cash attributable to the
// shares currently held). Zeroed, not deleted, on full sell or losing
// resolution.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Side      Side            `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
}

// AvgCost returns the weighted-average cost per currently held share.
func (p *Position) AvgCost() decimal.Decimal {
	if p.Shares.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return p.CostBasis.Div(p.Shares)
}

// TransactionRecord is an immutable, append-only record of one committed
// order. Records are never mutated; only the void-and-refund path bulk
// deletes a market's records together with the market itself.
type TransactionRecord struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Side      Side            `json:"side" db:"side"`
	Action    Action          `json:"action" db:"action"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Cash      decimal.Decimal `json:"cash" db:"cash"` // gross cash: investment on BUY, payout on SELL
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Price     decimal.Decimal `json:"price" db:"price"` // average execution price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Receipt is returned to the caller after a committed order.
type Receipt struct {
	TradeID        string          `json:"trade_id"`
	UserID         string          `json:"user_id"`
	MarketID       string          `json:"market_id"`
	Side           Side            `json:"side"`
	Action         Action          `json:"action"`
	Shares         decimal.Decimal `json:"shares"`
	Cash           decimal.Decimal `json:"cash"`
	Fee            decimal.Decimal `json:"fee"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	QuotaRemaining int             `json:"quota_remaining"`
}
