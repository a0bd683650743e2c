package domain

import "github.com/shopspring/decimal"

// Category groups symbols by asset class.
type Category string

const (
	CategoryCrypto      Category = "CRYPTO"
	CategoryForex       Category = "FOREX"
	CategoryStocks      Category = "STOCKS"
	CategoryCommodities Category = "COMMODITIES"
)

// SymbolStatus controls whether a symbol accepts new trades.
type SymbolStatus string

const (
	SymbolActive      SymbolStatus = "ACTIVE"
	SymbolInactive    SymbolStatus = "INACTIVE"
	SymbolMaintenance SymbolStatus = "MAINTENANCE"
)

// Upstream price sources a symbol can be mapped to.
const (
	UpstreamBinance    = "binance"
	UpstreamTwelveData = "twelvedata"
)

// Symbol is a tradable instrument.
type Symbol struct {
	Ticker          string // unique, upper-case, e.g. BTCUSDT
	Name            string
	Category        Category
	PayoutPercent   decimal.Decimal // 50..95
	MinStake        decimal.Decimal
	MaxStake        decimal.Decimal
	AllowedExpiries []int // seconds
	Status          SymbolStatus
	UpstreamSource  string // binance | twelvedata
	UpstreamTicker  string // btcusdt, EUR/USD
	IsPopular       bool
	SortOrder       int
}

// AllowsExpiry reports whether seconds is one of the symbol's expiry options.
func (s Symbol) AllowsExpiry(seconds int) bool {
	for _, e := range s.AllowedExpiries {
		if e == seconds {
			return true
		}
	}
	return false
}

// Tradable reports whether new trades may reference the symbol.
func (s Symbol) Tradable() bool {
	return s.Status == SymbolActive
}
