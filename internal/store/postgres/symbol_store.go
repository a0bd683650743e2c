package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// SymbolStore implements domain.SymbolRegistry using PostgreSQL.
type SymbolStore struct {
	pool *pgxpool.Pool
}

var _ domain.SymbolRegistry = (*SymbolStore)(nil)

// NewSymbolStore creates a new SymbolStore backed by the given connection pool.
func NewSymbolStore(pool *pgxpool.Pool) *SymbolStore {
	return &SymbolStore{pool: pool}
}

const symbolSelectCols = `ticker, name, category, payout_percent, min_stake, max_stake,
	expiry_options, status, upstream_source, upstream_ticker, is_popular, sort_order`

func scanSymbol(row pgx.Row) (domain.Symbol, error) {
	var (
		s                domain.Symbol
		category, status string
	)
	err := row.Scan(
		&s.Ticker, &s.Name, &category, &s.PayoutPercent, &s.MinStake, &s.MaxStake,
		&s.AllowedExpiries, &status, &s.UpstreamSource, &s.UpstreamTicker,
		&s.IsPopular, &s.SortOrder,
	)
	if err != nil {
		return domain.Symbol{}, err
	}
	s.Category = domain.Category(category)
	s.Status = domain.SymbolStatus(status)
	return s, nil
}

// Upsert inserts or updates a single symbol.
func (s *SymbolStore) Upsert(ctx context.Context, sym domain.Symbol) error {
	const query = `
		INSERT INTO symbols (
			ticker, name, category, payout_percent, min_stake, max_stake,
			expiry_options, status, upstream_source, upstream_ticker,
			is_popular, sort_order, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, NOW(), NOW()
		)
		ON CONFLICT (ticker) DO UPDATE SET
			name            = EXCLUDED.name,
			category        = EXCLUDED.category,
			payout_percent  = EXCLUDED.payout_percent,
			min_stake       = EXCLUDED.min_stake,
			max_stake       = EXCLUDED.max_stake,
			expiry_options  = EXCLUDED.expiry_options,
			status          = EXCLUDED.status,
			upstream_source = EXCLUDED.upstream_source,
			upstream_ticker = EXCLUDED.upstream_ticker,
			is_popular      = EXCLUDED.is_popular,
			sort_order      = EXCLUDED.sort_order,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		strings.ToUpper(sym.Ticker), sym.Name, string(sym.Category),
		sym.PayoutPercent, sym.MinStake, sym.MaxStake,
		sym.AllowedExpiries, string(sym.Status),
		sym.UpstreamSource, sym.UpstreamTicker,
		sym.IsPopular, sym.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert symbol %s: %w", sym.Ticker, err)
	}
	return nil
}

// Get returns a symbol regardless of status.
func (s *SymbolStore) Get(ctx context.Context, ticker string) (domain.Symbol, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+symbolSelectCols+` FROM symbols WHERE ticker = $1`,
		strings.ToUpper(ticker),
	)
	sym, err := scanSymbol(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Symbol{}, fmt.Errorf("postgres: get symbol %s: %w", ticker, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Symbol{}, fmt.Errorf("postgres: get symbol %s: %w", ticker, err)
	}
	return sym, nil
}

// GetActive returns the symbol only if it is ACTIVE.
func (s *SymbolStore) GetActive(ctx context.Context, ticker string) (domain.Symbol, error) {
	sym, err := s.Get(ctx, ticker)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Symbol{}, fmt.Errorf("postgres: get active symbol %s: %w", ticker, domain.ErrSymbolInactive)
	}
	if err != nil {
		return domain.Symbol{}, err
	}
	if !sym.Tradable() {
		return domain.Symbol{}, fmt.Errorf("postgres: symbol %s is %s: %w", ticker, sym.Status, domain.ErrSymbolInactive)
	}
	return sym, nil
}

// ListActive returns ACTIVE symbols ordered for display.
func (s *SymbolStore) ListActive(ctx context.Context, popularOnly bool) ([]domain.Symbol, error) {
	query := `SELECT ` + symbolSelectCols + ` FROM symbols WHERE status = 'ACTIVE'`
	if popularOnly {
		query += ` AND is_popular`
	}
	query += ` ORDER BY sort_order ASC, name ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active symbols: %w", err)
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active symbols rows: %w", err)
	}
	return out, nil
}
