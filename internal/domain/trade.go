package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a binary option.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// Valid reports whether d is CALL or PUT.
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// TradeStatus tracks the trade lifecycle. PENDING is the only non-terminal state.
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeWin       TradeStatus = "WIN"
	TradeLoss      TradeStatus = "LOSS"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Terminal reports whether s can no longer change.
func (s TradeStatus) Terminal() bool {
	return s != TradePending
}

// Trade is a single fixed-expiry binary option.
type Trade struct {
	ID                  string
	UserID              string
	Symbol              string
	SymbolName          string
	Category            Category
	Direction           Direction
	Stake               decimal.Decimal
	ExpirySeconds       int
	EntryPrice          decimal.Decimal
	EntrySource         PriceSource
	EntryTime           time.Time
	EndTime             time.Time // EntryTime + ExpirySeconds, never recomputed
	Status              TradeStatus
	ExitPrice           *decimal.Decimal
	ExitSource          PriceSource
	PayoutPercent       decimal.Decimal
	PossiblePayout      decimal.Decimal // stake + stake*payout/100, fixed at creation
	ActualPayout        decimal.Decimal
	WalletBalanceBefore decimal.Decimal
	WalletBalanceAfter  *decimal.Decimal
	StakeDebited        bool
	Processed           bool
	ProcessedAt         *time.Time
	Notes               string
	ClientIP            string
	UserAgent           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PossiblePayout returns stake + stake*percent/100.
func PossiblePayout(stake, percent decimal.Decimal) decimal.Decimal {
	return stake.Add(stake.Mul(percent).Div(decimal.NewFromInt(100)))
}

// Profit is the net wallet effect of a resolved trade.
func (t Trade) Profit() decimal.Decimal {
	return t.ActualPayout.Sub(t.Stake)
}

// Resolution is the terminal state written by a compare-and-set update.
type Resolution struct {
	Status       TradeStatus
	ExitPrice    *decimal.Decimal
	ExitSource   PriceSource
	ActualPayout decimal.Decimal
	ProcessedAt  time.Time
	Notes        string
}

// UserStats aggregates a user's trading history.
type UserStats struct {
	TotalTrades   int64
	WinningTrades int64
	LosingTrades  int64
	TotalInvested decimal.Decimal
	TotalPayout   decimal.Decimal
}

// Profit returns payout minus invested.
func (s UserStats) Profit() decimal.Decimal {
	return s.TotalPayout.Sub(s.TotalInvested)
}

// WinRate returns wins/total as a percent rounded to two places.
func (s UserStats) WinRate() decimal.Decimal {
	if s.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.WinningTrades).
		Div(decimal.NewFromInt(s.TotalTrades)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}
