package domain

import "github.com/shopspring/decimal"

var defaultExpiries = []int{30, 60, 120, 300}

// DefaultSymbols is the catalogue installed on a fresh database.
func DefaultSymbols() []Symbol {
	pct := decimal.NewFromInt
	one, grand := decimal.NewFromInt(1), decimal.NewFromInt(1000)

	mk := func(ticker, name string, cat Category, payout int64, source, upstream string, popular bool, order int) Symbol {
		return Symbol{
			Ticker:          ticker,
			Name:            name,
			Category:        cat,
			PayoutPercent:   pct(payout),
			MinStake:        one,
			MaxStake:        grand,
			AllowedExpiries: append([]int(nil), defaultExpiries...),
			Status:          SymbolActive,
			UpstreamSource:  source,
			UpstreamTicker:  upstream,
			IsPopular:       popular,
			SortOrder:       order,
		}
	}

	return []Symbol{
		mk("BTCUSDT", "Bitcoin", CategoryCrypto, 85, UpstreamBinance, "btcusdt", true, 1),
		mk("ETHUSDT", "Ethereum", CategoryCrypto, 85, UpstreamBinance, "ethusdt", true, 2),
		mk("BNBUSDT", "BNB", CategoryCrypto, 80, UpstreamBinance, "bnbusdt", false, 3),
		mk("ADAUSDT", "Cardano", CategoryCrypto, 80, UpstreamBinance, "adausdt", false, 4),
		mk("EURUSD", "EUR/USD", CategoryForex, 80, UpstreamTwelveData, "EUR/USD", true, 5),
		mk("GBPUSD", "GBP/USD", CategoryForex, 80, UpstreamTwelveData, "GBP/USD", false, 6),
		mk("XAUUSD", "Gold", CategoryCommodities, 83, UpstreamTwelveData, "XAU/USD", true, 7),
		mk("AAPL", "Apple Inc.", CategoryStocks, 82, UpstreamTwelveData, "AAPL", false, 8),
		mk("TSLA", "Tesla Inc.", CategoryStocks, 82, UpstreamTwelveData, "TSLA", true, 9),
	}
}
