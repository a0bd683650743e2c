package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// PriceReader is the oracle's read interface.
type PriceReader interface {
	GetPrice(symbol string) (domain.PriceTick, bool)
}

// Market is an active symbol with its latest price, for listings.
type Market struct {
	domain.Symbol
	CurrentPrice *decimal.Decimal
	PriceChange  decimal.Decimal
	PriceSource  domain.PriceSource
}

// MarketService lists tradable symbols enriched with live prices.
type MarketService struct {
	symbols domain.SymbolRegistry
	oracle  PriceReader
	cache   domain.PriceCache // optional, consulted for symbols the oracle lacks
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	symbols domain.SymbolRegistry,
	oracle PriceReader,
	cache domain.PriceCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		symbols: symbols,
		oracle:  oracle,
		cache:   cache,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// ListMarkets returns ACTIVE symbols in sort order. popularOnly restricts the
// listing to symbols flagged popular.
func (s *MarketService) ListMarkets(ctx context.Context, popularOnly bool) ([]Market, error) {
	syms, err := s.symbols.ListActive(ctx, popularOnly)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}

	out := make([]Market, len(syms))
	var missing []string
	for i, sym := range syms {
		out[i] = Market{Symbol: sym}
		if tick, ok := s.oracle.GetPrice(sym.Ticker); ok {
			applyTick(&out[i], tick)
			continue
		}
		missing = append(missing, sym.Ticker)
	}

	if len(missing) > 0 && s.cache != nil {
		ticks, err := s.cache.GetTicks(ctx, missing)
		if err != nil {
			// Non-fatal: markets are listed without prices.
			s.logger.WarnContext(ctx, "price cache lookup failed",
				slog.Int("symbols", len(missing)),
				slog.String("error", err.Error()),
			)
			return out, nil
		}
		for i := range out {
			if out[i].CurrentPrice != nil {
				continue
			}
			if tick, ok := ticks[out[i].Ticker]; ok {
				applyTick(&out[i], tick)
			}
		}
	}
	return out, nil
}

func applyTick(m *Market, t domain.PriceTick) {
	p := t.Price
	m.CurrentPrice = &p
	m.PriceChange = t.Change24h
	m.PriceSource = t.Source
}
