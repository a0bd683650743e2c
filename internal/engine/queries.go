package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/startraders/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryPage is one page of a user's trades, newest first.
type HistoryPage struct {
	Trades []domain.Trade
	Page   int
	Limit  int
	Total  int64
	Pages  int64
}

// ActiveTrades returns the user's PENDING trades.
func (e *Engine) ActiveTrades(ctx context.Context, userID string) ([]domain.Trade, error) {
	trades, err := e.deps.Trades.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: active trades: %w", err)
	}
	return trades, nil
}

// TradeHistory returns page (1-based) of the user's trades.
func (e *Engine) TradeHistory(ctx context.Context, userID string, page, limit int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	total, err := e.deps.Trades.CountByUser(ctx, userID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("engine: trade history: %w", err)
	}
	trades, err := e.deps.Trades.ListByUser(ctx, userID, domain.ListOpts{
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return HistoryPage{}, fmt.Errorf("engine: trade history: %w", err)
	}

	l := int64(limit)
	return HistoryPage{
		Trades: trades,
		Page:   page,
		Limit:  limit,
		Total:  total,
		Pages:  (total + l - 1) / l,
	}, nil
}

// Stats aggregates the user's trading record. Pending trades count toward
// totals and invested amount.
func (e *Engine) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	st, err := e.deps.Trades.StatsByUser(ctx, userID)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("engine: stats: %w", err)
	}
	return st, nil
}

// Trade returns one trade by ID.
func (e *Engine) Trade(ctx context.Context, id string) (domain.Trade, error) {
	t, err := e.deps.Trades.Get(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: trade: %w", err)
	}
	return t, nil
}
