package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// WalletStore implements domain.WalletLedger on the users table. Mutations are
// single atomic UPDATE statements so concurrent callers never lose an update.
type WalletStore struct {
	q dbtx
}

var _ domain.WalletLedger = (*WalletStore)(nil)

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{q: pool}
}

// Balance returns the user's current balance.
func (s *WalletStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE id = $1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("postgres: balance %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: balance %s: %w", userID, err)
	}
	return bal, nil
}

// Debit subtracts amount when the balance covers it.
func (s *WalletStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		UPDATE users SET wallet_balance = wallet_balance - $2, updated_at = NOW()
		WHERE id = $1 AND wallet_balance >= $2
		RETURNING wallet_balance`

	var bal decimal.Decimal
	err := s.q.QueryRow(ctx, query, userID, amount).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is missing or the condition failed.
		if _, berr := s.Balance(ctx, userID); berr != nil {
			return decimal.Zero, berr
		}
		return decimal.Zero, fmt.Errorf("postgres: debit %s: %w", userID, domain.ErrInsufficientBalance)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: debit %s: %w", userID, err)
	}
	return bal, nil
}

// Credit adds amount to the balance.
func (s *WalletStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		UPDATE users SET wallet_balance = wallet_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING wallet_balance`

	var bal decimal.Decimal
	err := s.q.QueryRow(ctx, query, userID, amount).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("postgres: credit %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: credit %s: %w", userID, err)
	}
	return bal, nil
}

// EnsureUser creates a user row with the given opening balance if absent.
func (s *WalletStore) EnsureUser(ctx context.Context, userID string, opening decimal.Decimal) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, wallet_balance) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		userID, opening,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensure user %s: %w", userID, err)
	}
	return nil
}
