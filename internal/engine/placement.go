package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// PlaceRequest is a user's request to open a trade.
type PlaceRequest struct {
	UserID        string
	Symbol        string
	Direction     domain.Direction
	Stake         decimal.Decimal
	ExpirySeconds int
	ClientIP      string
	UserAgent     string
}

// PlaceTrade validates req and opens a PENDING trade. Checks run in a fixed
// order and the first failure is returned; nothing is written unless every
// check passes.
func (e *Engine) PlaceTrade(ctx context.Context, req PlaceRequest) (domain.Trade, error) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Symbol))

	sym, err := e.deps.Symbols.GetActive(ctx, ticker)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: place trade: %w", err)
	}
	if !req.Direction.Valid() {
		return domain.Trade{}, fmt.Errorf("engine: place trade: %q: %w", req.Direction, domain.ErrInvalidDirection)
	}
	if err := e.checkStake(sym, req.Stake); err != nil {
		return domain.Trade{}, err
	}
	if !sym.AllowsExpiry(req.ExpirySeconds) {
		return domain.Trade{}, fmt.Errorf("engine: place trade: %ds not in %v: %w",
			req.ExpirySeconds, sym.AllowedExpiries, domain.ErrInvalidExpiry)
	}

	balance, err := e.deps.Wallet.Balance(ctx, req.UserID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: place trade: %w", err)
	}
	if balance.LessThan(req.Stake) {
		return domain.Trade{}, fmt.Errorf("engine: place trade: balance %s < stake %s: %w",
			balance, req.Stake, domain.ErrInsufficientBalance)
	}

	tick, err := e.deps.Oracle.FreshPrice(sym.Ticker)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: place trade: %w", err)
	}

	now := e.now()
	trade := domain.Trade{
		ID:             e.newID(),
		UserID:         req.UserID,
		Symbol:         sym.Ticker,
		SymbolName:     sym.Name,
		Category:       sym.Category,
		Direction:      req.Direction,
		Stake:          req.Stake,
		ExpirySeconds:  req.ExpirySeconds,
		EntryPrice:     tick.Price,
		EntrySource:    tick.Source,
		EntryTime:      now,
		EndTime:        now.Add(time.Duration(req.ExpirySeconds) * time.Second),
		Status:         domain.TradePending,
		PayoutPercent:  sym.PayoutPercent,
		PossiblePayout: domain.PossiblePayout(req.Stake, sym.PayoutPercent),
		ActualPayout:   decimal.Zero,
		StakeDebited:   true,
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = e.deps.Tx.WithinTx(ctx, func(tx domain.Tx) error {
		after, err := tx.Wallet().Debit(ctx, req.UserID, req.Stake)
		if err != nil {
			return err
		}
		trade.WalletBalanceBefore = after.Add(req.Stake)
		return tx.Trades().Insert(ctx, trade)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return domain.Trade{}, fmt.Errorf("engine: place trade: debit: %w", domain.ErrInsufficientBalance)
		}
		return domain.Trade{}, fmt.Errorf("engine: place trade: %w", err)
	}

	e.logger.InfoContext(ctx, "trade placed",
		slog.String("trade_id", trade.ID),
		slog.String("user_id", trade.UserID),
		slog.String("symbol", trade.Symbol),
		slog.String("direction", string(trade.Direction)),
		slog.String("stake", trade.Stake.String()),
		slog.String("entry_price", trade.EntryPrice.String()),
		slog.String("entry_source", string(trade.EntrySource)),
		slog.Int("expiry_seconds", trade.ExpirySeconds),
	)
	e.publish(ctx, domain.TradeEventPlaced, trade)
	return trade, nil
}

// stakeScale is the finest stake increment accepted, in decimal places. With
// payout percents of two places, payouts stay exact in NUMERIC(20, 8).
const stakeScale = 2

// checkStake applies the precision limit, the symbol bounds and the global bounds.
func (e *Engine) checkStake(sym domain.Symbol, stake decimal.Decimal) error {
	if !stake.Equal(stake.Round(stakeScale)) {
		return fmt.Errorf("engine: place trade: stake %s has more than %d decimal places: %w",
			stake, stakeScale, domain.ErrStakeOutOfBounds)
	}
	lo := decimal.Max(sym.MinStake, e.cfg.GlobalMinStake)
	hi := decimal.Min(sym.MaxStake, e.cfg.GlobalMaxStake)
	if !stake.IsPositive() || stake.LessThan(lo) || stake.GreaterThan(hi) {
		return fmt.Errorf("engine: place trade: stake %s outside [%s, %s]: %w",
			stake, lo, hi, domain.ErrStakeOutOfBounds)
	}
	return nil
}

// WalletBalance returns the user's balance.
func (e *Engine) WalletBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := e.deps.Wallet.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: wallet balance: %w", err)
	}
	return bal, nil
}
