package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Every mutating operation runs in one Serializable transaction, so the
// per-order commit is linearizable against concurrent orders on the same
// market or account.
type PostgresStore struct {
	pool            *pgxpool.Pool
	startingBalance decimal.Decimal
}

// NewPostgresStore creates a PostgreSQL-backed store. New accounts start
// with the given balance.
func NewPostgresStore(pool *pgxpool.Pool, startingBalance decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, startingBalance: startingBalance}
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS markets (
			id          TEXT PRIMARY KEY,
			question    TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			topic       TEXT NOT NULL DEFAULT '',
			pool_yes    NUMERIC NOT NULL,
			pool_no     NUMERIC NOT NULL,
			closed      BOOLEAN NOT NULL DEFAULT FALSE,
			outcome     TEXT NOT NULL DEFAULT 'PENDING',
			created_at  TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS accounts (
			user_id    TEXT PRIMARY KEY,
			balance    NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			user_id    TEXT NOT NULL,
			market_id  TEXT NOT NULL,
			side       TEXT NOT NULL,
			shares     NUMERIC NOT NULL DEFAULT 0,
			cost_basis NUMERIC NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, market_id, side)
		);
		CREATE TABLE IF NOT EXISTS transaction_records (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			market_id  TEXT NOT NULL,
			side       TEXT NOT NULL,
			action     TEXT NOT NULL,
			shares     NUMERIC NOT NULL,
			cash       NUMERIC NOT NULL,
			fee        NUMERIC NOT NULL,
			price      NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_user_time
			ON transaction_records (user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_records_market_time
			ON transaction_records (market_id, created_at);
	`)
	return err
}

// mapPgErr converts serialization failures into ErrConflict so callers
// can retry the whole order.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return ErrConflict
	}
	return err
}

// beginSerializable starts the per-operation transaction; the tradepl-style
// one-serializable-transaction-per-order scope.
func (s *PostgresStore) beginSerializable(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
}

const marketColumns = `id, question, description, topic,
	pool_yes::TEXT, pool_no::TEXT, closed, outcome, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var poolYes, poolNo, outcome string
	if err := row.Scan(&m.ID, &m.Question, &m.Description, &m.Topic,
		&poolYes, &poolNo, &m.Closed, &outcome, &m.CreatedAt, &m.ResolvedAt); err != nil {
		return nil, err
	}
	m.PoolYes, _ = decimal.NewFromString(poolYes)
	m.PoolNo, _ = decimal.NewFromString(poolNo)
	m.Outcome = model.Outcome(outcome)
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, description, topic, pool_yes, pool_no, closed, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Question, m.Description, m.Topic,
		m.PoolYes.String(), m.PoolNo.String(),
		m.Closed, string(m.Outcome), m.CreatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateMarket
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string) (*model.Account, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, s.startingBalance.String(), time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, created_at FROM accounts WHERE user_id = $1`,
		userID).Scan(&a.UserID, &balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, balance::TEXT, created_at FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.UserID, &balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Balance, _ = decimal.NewFromString(balance)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	p := &model.Position{
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		Shares:    decimal.Zero,
		CostBasis: decimal.Zero,
	}
	var shares, costBasis string
	err := s.pool.QueryRow(ctx,
		`SELECT shares::TEXT, cost_basis::TEXT FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND side = $3`,
		userID, marketID, string(side)).Scan(&shares, &costBasis)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.CostBasis, _ = decimal.NewFromString(costBasis)
	return p, nil
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, side, shares::TEXT, cost_basis::TEXT
		 FROM positions
		 WHERE user_id = $1 AND shares > 0
		 ORDER BY market_id, side`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var side, shares, costBasis string
		if err := rows.Scan(&p.UserID, &p.MarketID, &side, &shares, &costBasis); err != nil {
			return nil, err
		}
		p.Side = model.Side(side)
		p.Shares, _ = decimal.NewFromString(shares)
		p.CostBasis, _ = decimal.NewFromString(costBasis)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUserTradesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transaction_records
		 WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&count)
	return count, err
}

const recordColumns = `id, user_id, market_id, side, action,
	shares::TEXT, cash::TEXT, fee::TEXT, price::TEXT, created_at`

func scanRecords(rows pgx.Rows) ([]model.TransactionRecord, error) {
	var out []model.TransactionRecord
	for rows.Next() {
		var r model.TransactionRecord
		var side, action, shares, cash, fee, price string
		if err := rows.Scan(&r.ID, &r.UserID, &r.MarketID, &side, &action,
			&shares, &cash, &fee, &price, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Side = model.Side(side)
		r.Action = model.Action(action)
		r.Shares, _ = decimal.NewFromString(shares)
		r.Cash, _ = decimal.NewFromString(cash)
		r.Fee, _ = decimal.NewFromString(fee)
		r.Price, _ = decimal.NewFromString(price)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM transaction_records
		 WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM transaction_records
		 WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) CommitTrade(ctx context.Context, commit TradeCommit) (int, error) {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rec := commit.Record

	var closed bool
	err = tx.QueryRow(ctx,
		`SELECT closed FROM markets WHERE id = $1 FOR UPDATE`,
		rec.MarketID).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrMarketNotFound
		}
		return 0, mapPgErr(err)
	}
	if closed {
		return 0, ErrMarketClosed
	}

	// Quota re-check, atomic with the commit.
	var today int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM transaction_records
		 WHERE user_id = $1 AND created_at >= $2`,
		rec.UserID, commit.DayStart).Scan(&today)
	if err != nil {
		return 0, mapPgErr(err)
	}
	if today >= commit.DailyCap {
		return 0, ErrQuotaExhausted
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		rec.UserID, s.startingBalance.String(), time.Now().UTC()); err != nil {
		return 0, mapPgErr(err)
	}

	var balance string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`,
		rec.UserID).Scan(&balance)
	if err != nil {
		return 0, mapPgErr(err)
	}
	bal, _ := decimal.NewFromString(balance)
	newBalance := bal.Add(commit.CashDelta)
	if newBalance.IsNegative() {
		return 0, ErrInsufficientFunds
	}

	pos, err := s.positionForUpdate(ctx, tx, rec.UserID, rec.MarketID, rec.Side)
	if err != nil {
		return 0, mapPgErr(err)
	}
	newShares := pos.Shares.Add(commit.ShareDelta)
	if newShares.IsNegative() {
		return 0, ErrInsufficientShares
	}
	newCostBasis := pos.CostBasis.Add(commit.CostBasisDelta)
	if newCostBasis.IsNegative() {
		newCostBasis = decimal.Zero
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`,
		rec.UserID, newBalance.String()); err != nil {
		return 0, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, side, shares, cost_basis)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (user_id, market_id, side)
		 DO UPDATE SET shares = EXCLUDED.shares, cost_basis = EXCLUDED.cost_basis`,
		rec.UserID, rec.MarketID, string(rec.Side),
		newShares.String(), newCostBasis.String()); err != nil {
		return 0, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC WHERE id = $1`,
		rec.MarketID, commit.NewPoolYes.String(), commit.NewPoolNo.String()); err != nil {
		return 0, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO transaction_records (id, user_id, market_id, side, action, shares, cash, fee, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		rec.ID, rec.UserID, rec.MarketID, string(rec.Side), string(rec.Action),
		rec.Shares.String(), rec.Cash.String(), rec.Fee.String(), rec.Price.String(),
		rec.CreatedAt); err != nil {
		return 0, mapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgErr(err)
	}
	return today + 1, nil
}

func (s *PostgresStore) positionForUpdate(ctx context.Context, tx pgx.Tx, userID, marketID string, side model.Side) (*model.Position, error) {
	p := &model.Position{
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		Shares:    decimal.Zero,
		CostBasis: decimal.Zero,
	}
	var shares, costBasis string
	err := tx.QueryRow(ctx,
		`SELECT shares::TEXT, cost_basis::TEXT FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND side = $3 FOR UPDATE`,
		userID, marketID, string(side)).Scan(&shares, &costBasis)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.CostBasis, _ = decimal.NewFromString(costBasis)
	return p, nil
}

func (s *PostgresStore) ResolveMarket(ctx context.Context, marketID string, outcome model.Outcome, resolvedAt time.Time) (*Settlement, error) {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var closed bool
	err = tx.QueryRow(ctx,
		`SELECT closed FROM markets WHERE id = $1 FOR UPDATE`,
		marketID).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, mapPgErr(err)
	}
	if closed {
		return nil, ErrAlreadyResolved
	}

	settlement := &Settlement{
		MarketID:   marketID,
		Outcome:    outcome,
		TotalPaid:  decimal.Zero,
		ResolvedAt: resolvedAt,
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id, shares::TEXT FROM positions
		 WHERE market_id = $1 AND side = $2 AND shares > 0 FOR UPDATE`,
		marketID, string(outcome))
	if err != nil {
		return nil, mapPgErr(err)
	}
	type payout struct {
		userID string
		shares decimal.Decimal
	}
	var payouts []payout
	for rows.Next() {
		var userID, shares string
		if err := rows.Scan(&userID, &shares); err != nil {
			rows.Close()
			return nil, err
		}
		sh, _ := decimal.NewFromString(shares)
		payouts = append(payouts, payout{userID: userID, shares: sh})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range payouts {
		// $1 per winning share.
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = balance + $2::NUMERIC WHERE user_id = $1`,
			p.userID, p.shares.String()); err != nil {
			return nil, mapPgErr(err)
		}
		settlement.TotalPaid = settlement.TotalPaid.Add(p.shares)
		settlement.Winners++
	}

	if _, err := tx.Exec(ctx,
		`UPDATE positions SET shares = 0, cost_basis = 0 WHERE market_id = $1`,
		marketID); err != nil {
		return nil, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET closed = TRUE, outcome = $2, resolved_at = $3 WHERE id = $1`,
		marketID, string(outcome), resolvedAt); err != nil {
		return nil, mapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgErr(err)
	}
	return settlement, nil
}

func (s *PostgresStore) VoidMarket(ctx context.Context, marketID string) (*VoidSummary, error) {
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var closed bool
	err = tx.QueryRow(ctx,
		`SELECT closed FROM markets WHERE id = $1 FOR UPDATE`,
		marketID).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, mapPgErr(err)
	}
	if closed {
		return nil, ErrMarketClosed
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id,
		        SUM(CASE WHEN action = 'BUY' THEN cash ELSE -cash END)::TEXT,
		        COUNT(*)
		 FROM transaction_records
		 WHERE market_id = $1
		 GROUP BY user_id`, marketID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	type refund struct {
		userID string
		delta  decimal.Decimal
		count  int
	}
	var refunds []refund
	for rows.Next() {
		var userID, deltaS string
		var count int
		if err := rows.Scan(&userID, &deltaS, &count); err != nil {
			rows.Close()
			return nil, err
		}
		delta, _ := decimal.NewFromString(deltaS)
		refunds = append(refunds, refund{userID: userID, delta: delta, count: count})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary := &VoidSummary{MarketID: marketID, CashRefunded: decimal.Zero}
	for _, r := range refunds {
		summary.Reversed += r.count
		var balance string
		if err := tx.QueryRow(ctx,
			`SELECT balance::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`,
			r.userID).Scan(&balance); err != nil {
			return nil, mapPgErr(err)
		}
		bal, _ := decimal.NewFromString(balance)
		delta := r.delta
		if bal.Add(delta).IsNegative() {
			// Negative balance protection: never claw back beyond zero.
			delta = bal.Neg()
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`,
			r.userID, bal.Add(delta).String()); err != nil {
			return nil, mapPgErr(err)
		}
		summary.CashRefunded = summary.CashRefunded.Add(delta)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM transaction_records WHERE market_id = $1`, marketID); err != nil {
		return nil, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM positions WHERE market_id = $1`, marketID); err != nil {
		return nil, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM markets WHERE id = $1`, marketID); err != nil {
		return nil, mapPgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgErr(err)
	}
	return summary, nil
}
