package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceEvent is published on ChannelPrices for every accepted tick.
type PriceEvent struct {
	Event     string          `json:"event"` // "price_update"
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change"`
	Source    PriceSource     `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPriceEvent wraps a tick for the bus.
func NewPriceEvent(t PriceTick) PriceEvent {
	return PriceEvent{
		Event:     "price_update",
		Symbol:    t.Symbol,
		Price:     t.Price,
		Change24h: t.Change24h,
		Source:    t.Source,
		Timestamp: t.Timestamp,
	}
}

// Trade event kinds.
const (
	TradeEventPlaced   = "trade_placed"
	TradeEventResolved = "trade_resolved"
)

// TradeEvent is published on ChannelTrades when a trade is placed or leaves PENDING.
type TradeEvent struct {
	Event        string           `json:"event"`
	TradeID      string           `json:"trade_id"`
	UserID       string           `json:"user_id"`
	Symbol       string           `json:"symbol"`
	Direction    Direction        `json:"direction"`
	Stake        decimal.Decimal  `json:"stake"`
	Status       TradeStatus      `json:"status"`
	EntryPrice   decimal.Decimal  `json:"entry_price"`
	ExitPrice    *decimal.Decimal `json:"exit_price,omitempty"`
	ActualPayout decimal.Decimal  `json:"actual_payout"`
	EndTime      time.Time        `json:"end_time"`
}

// NewTradeEvent builds an event of the given kind from t.
func NewTradeEvent(kind string, t Trade) TradeEvent {
	return TradeEvent{
		Event:        kind,
		TradeID:      t.ID,
		UserID:       t.UserID,
		Symbol:       t.Symbol,
		Direction:    t.Direction,
		Stake:        t.Stake,
		Status:       t.Status,
		EntryPrice:   t.EntryPrice,
		ExitPrice:    t.ExitPrice,
		ActualPayout: t.ActualPayout,
		EndTime:      t.EndTime,
	}
}
