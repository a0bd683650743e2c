package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/service"
)

// popularLimit caps the popular listing.
const popularLimit = 10

// MarketLister lists active symbols with prices.
type MarketLister interface {
	ListMarkets(ctx context.Context, popularOnly bool) ([]service.Market, error)
}

// MarketHandler serves the public market listings.
type MarketHandler struct {
	markets MarketLister
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketLister, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logHandler(logger, "market")}
}

type marketView struct {
	Symbol         string             `json:"symbol"`
	Name           string             `json:"name"`
	Category       domain.Category    `json:"category"`
	PayoutPercent  decimal.Decimal    `json:"payoutPercent"`
	MinTradeAmount decimal.Decimal    `json:"minTradeAmount"`
	MaxTradeAmount decimal.Decimal    `json:"maxTradeAmount"`
	ExpiryOptions  []int              `json:"expiryOptions"`
	IsPopular      bool               `json:"isPopular"`
	CurrentPrice   *decimal.Decimal   `json:"currentPrice"`
	PriceChange    *decimal.Decimal   `json:"priceChange"`
	PriceSource    domain.PriceSource `json:"priceSource,omitempty"`
}

func newMarketView(m service.Market) marketView {
	v := marketView{
		Symbol:         m.Ticker,
		Name:           m.Name,
		Category:       m.Category,
		PayoutPercent:  m.PayoutPercent,
		MinTradeAmount: m.MinStake,
		MaxTradeAmount: m.MaxStake,
		ExpiryOptions:  m.AllowedExpiries,
		IsPopular:      m.IsPopular,
		CurrentPrice:   m.CurrentPrice,
		PriceSource:    m.PriceSource,
	}
	if m.CurrentPrice != nil {
		change := m.PriceChange
		v.PriceChange = &change
	}
	return v
}

// ListMarkets returns every ACTIVE symbol.
// GET /trading/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// PopularMarkets returns up to ten popular ACTIVE symbols.
// GET /trading/markets/popular
func (h *MarketHandler) PopularMarkets(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *MarketHandler) list(w http.ResponseWriter, r *http.Request, popular bool) {
	markets, err := h.markets.ListMarkets(r.Context(), popular)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if popular && len(markets) > popularLimit {
		markets = markets[:popularLimit]
	}
	views := make([]marketView, len(markets))
	for i, m := range markets {
		views[i] = newMarketView(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"markets": views,
	})
}
