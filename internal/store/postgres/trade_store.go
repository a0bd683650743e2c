package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	q dbtx
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{q: pool}
}

const tradeSelectCols = `id, user_id, symbol, symbol_name, category, direction,
	stake, expiry_seconds, entry_price, entry_source, entry_time, end_time,
	status, exit_price, exit_source, payout_percent, possible_payout, actual_payout,
	wallet_balance_before, wallet_balance_after, stake_debited, processed, processed_at,
	notes, client_ip, user_agent, created_at, updated_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t                           domain.Trade
		category, direction, status string
		entrySource, exitSource     string
		exitPrice, balanceAfter     decimal.NullDecimal
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.Symbol, &t.SymbolName, &category, &direction,
		&t.Stake, &t.ExpirySeconds, &t.EntryPrice, &entrySource, &t.EntryTime, &t.EndTime,
		&status, &exitPrice, &exitSource, &t.PayoutPercent, &t.PossiblePayout, &t.ActualPayout,
		&t.WalletBalanceBefore, &balanceAfter, &t.StakeDebited, &t.Processed, &t.ProcessedAt,
		&t.Notes, &t.ClientIP, &t.UserAgent, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Category = domain.Category(category)
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	t.EntrySource = domain.PriceSource(entrySource)
	t.ExitSource = domain.PriceSource(exitSource)
	if exitPrice.Valid {
		v := exitPrice.Decimal
		t.ExitPrice = &v
	}
	if balanceAfter.Valid {
		v := balanceAfter.Decimal
		t.WalletBalanceAfter = &v
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert persists a new trade.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, user_id, symbol, symbol_name, category, direction,
			stake, expiry_seconds, entry_price, entry_source, entry_time, end_time,
			status, payout_percent, possible_payout, actual_payout,
			wallet_balance_before, stake_debited, notes, client_ip, user_agent,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $22
		)`

	_, err := s.q.Exec(ctx, query,
		t.ID, t.UserID, t.Symbol, t.SymbolName, string(t.Category), string(t.Direction),
		t.Stake, t.ExpirySeconds, t.EntryPrice, string(t.EntrySource), t.EntryTime, t.EndTime,
		string(t.Status), t.PayoutPercent, t.PossiblePayout, t.ActualPayout,
		t.WalletBalanceBefore, t.StakeDebited, t.Notes, t.ClientIP, t.UserAgent,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Get returns a trade by ID.
func (s *TradeStore) Get(ctx context.Context, id string) (domain.Trade, error) {
	row := s.q.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// FindExpiredPending returns PENDING trades whose end time is at or before now,
// oldest first, leaving out the IDs in exclude.
func (s *TradeStore) FindExpiredPending(ctx context.Context, now time.Time, limit int, exclude []string) ([]domain.Trade, error) {
	query, args := expiredPendingQuery(now, limit, exclude)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find expired pending: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired pending: %w", err)
	}
	return trades, nil
}

func expiredPendingQuery(now time.Time, limit int, exclude []string) (string, []any) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades
		WHERE status = 'PENDING' AND end_time <= $1 AND NOT processed`
	args := []any{now, limit}
	if len(exclude) > 0 {
		query += ` AND NOT (id = ANY($3))`
		args = append(args, exclude)
	}
	query += `
		ORDER BY end_time ASC
		LIMIT $2`
	return query, args
}

// CountOverdue counts PENDING trades whose end time is before the cutoff.
func (s *TradeStore) CountOverdue(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = 'PENDING' AND end_time < $1`, before,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count overdue: %w", err)
	}
	return n, nil
}

// UpdateResolved is a compare-and-set from PENDING to r.Status.
func (s *TradeStore) UpdateResolved(ctx context.Context, id string, r domain.Resolution) error {
	const query = `
		UPDATE trades SET
			status        = $2,
			exit_price    = $3,
			exit_source   = $4,
			actual_payout = $5,
			processed     = TRUE,
			processed_at  = $6,
			notes         = CASE WHEN $7::text = '' THEN notes ELSE $7::text END,
			updated_at    = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := s.q.Exec(ctx, query,
		id, string(r.Status), r.ExitPrice, string(r.ExitSource),
		r.ActualPayout, r.ProcessedAt, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve trade %s: %w", id, domain.ErrTradeNotPending)
	}
	return nil
}

// SetBalanceAfter records the wallet balance observed after settlement.
func (s *TradeStore) SetBalanceAfter(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE trades SET wallet_balance_after = $2, updated_at = NOW() WHERE id = $1`,
		id, balance,
	)
	if err != nil {
		return fmt.Errorf("postgres: set balance after %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set balance after %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListActiveByUser returns a user's PENDING trades, newest first.
func (s *TradeStore) ListActiveByUser(ctx context.Context, userID string) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY created_at DESC`
	rows, err := s.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active trades: %w", err)
	}
	return trades, nil
}

// ListByUser returns a user's trades with pagination and optional time filtering.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := withListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE user_id = $1`,
		[]any{userID}, "created_at", opts,
	)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by user: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by user: %w", err)
	}
	return trades, nil
}

// CountByUser returns the total number of trades a user has placed.
func (s *TradeStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades by user: %w", err)
	}
	return n, nil
}

// StatsByUser aggregates totals across every trade of the user, pending included.
func (s *TradeStore) StatsByUser(ctx context.Context, userID string) (domain.UserStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'WIN'),
			COUNT(*) FILTER (WHERE status = 'LOSS'),
			COALESCE(SUM(stake), 0),
			COALESCE(SUM(actual_payout), 0)
		FROM trades WHERE user_id = $1`

	var st domain.UserStats
	err := s.q.QueryRow(ctx, query, userID).Scan(
		&st.TotalTrades, &st.WinningTrades, &st.LosingTrades,
		&st.TotalInvested, &st.TotalPayout,
	)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("postgres: stats by user: %w", err)
	}
	return st, nil
}

// ListResolvedBefore returns terminal trades processed strictly before the
// given time, oldest first (for archiving).
func (s *TradeStore) ListResolvedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE processed AND processed_at < $1
		ORDER BY processed_at ASC`
	args := []any{before}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteResolvedBefore removes archived terminal trades. Returns the number deleted.
func (s *TradeStore) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM trades WHERE processed AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete resolved before: %w", err)
	}
	return tag.RowsAffected(), nil
}
