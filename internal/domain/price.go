package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource tags where a tick came from.
type PriceSource string

const (
	SourceBinance            PriceSource = "binance"
	SourceTwelveData         PriceSource = "twelvedata"
	SourceFallback           PriceSource = "fallback"
	SourceFallbackSimulation PriceSource = "fallback-simulation"
)

// Rank orders sources by preference. Lower wins.
func (s PriceSource) Rank() int {
	switch s {
	case SourceBinance:
		return 0
	case SourceTwelveData:
		return 1
	case SourceFallbackSimulation:
		return 2
	case SourceFallback:
		return 3
	default:
		return 4
	}
}

// PriceTick is the latest observed price of a symbol.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	Change24h decimal.Decimal // percent
	Timestamp time.Time       // arrival time
	Source    PriceSource
}

// Age returns how old the tick is relative to now.
func (t PriceTick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}
