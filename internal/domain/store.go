package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SymbolRegistry reads and seeds tradable symbols.
type SymbolRegistry interface {
	// GetActive returns ErrSymbolInactive unless the ticker exists and is ACTIVE.
	GetActive(ctx context.Context, ticker string) (Symbol, error)
	Get(ctx context.Context, ticker string) (Symbol, error)
	ListActive(ctx context.Context, popularOnly bool) ([]Symbol, error)
	Upsert(ctx context.Context, s Symbol) error
}

// WalletLedger holds per-user balances. Debit and Credit are atomic.
type WalletLedger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Debit subtracts amount only if the balance covers it, else ErrInsufficientBalance.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// TradeStore persists trades.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	Get(ctx context.Context, id string) (Trade, error)
	// FindExpiredPending returns PENDING trades ended at or before now,
	// oldest end first, skipping the IDs in exclude.
	FindExpiredPending(ctx context.Context, now time.Time, limit int, exclude []string) ([]Trade, error)
	CountOverdue(ctx context.Context, before time.Time) (int64, error)
	// UpdateResolved moves a PENDING trade to a terminal state. It returns
	// ErrTradeNotPending when the trade has already left PENDING.
	UpdateResolved(ctx context.Context, id string, r Resolution) error
	SetBalanceAfter(ctx context.Context, id string, balance decimal.Decimal) error
	ListActiveByUser(ctx context.Context, userID string) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	StatsByUser(ctx context.Context, userID string) (UserStats, error)
	ListResolvedBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Trade, error)
}

// Tx exposes stores bound to one database transaction.
type Tx interface {
	Trades() TradeStore
	Wallet() WalletLedger
}

// Transactor runs fn inside a transaction. A non-nil error from fn rolls back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Audit events.
const (
	AuditTradeCancelled   = "trade_cancelled"
	AuditReconciliation   = "reconciliation_required"
	AuditTradesArchived   = "trades_archived"
	AuditSettlementDelays = "settlement_delayed"
)

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByEvent(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
