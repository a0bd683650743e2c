package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/engine"
	"github.com/alanyoungcy/startraders/internal/server/middleware"
)

// TradingService is the part of the engine the trading routes use.
type TradingService interface {
	PlaceTrade(ctx context.Context, req engine.PlaceRequest) (domain.Trade, error)
	ActiveTrades(ctx context.Context, userID string) ([]domain.Trade, error)
	TradeHistory(ctx context.Context, userID string, page, limit int) (engine.HistoryPage, error)
	Stats(ctx context.Context, userID string) (domain.UserStats, error)
}

// TradingHandler serves the authenticated /trading routes.
type TradingHandler struct {
	svc    TradingService
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(svc TradingService, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{svc: svc, logger: logHandler(logger, "trading")}
}

type placeTradeRequest struct {
	Symbol      string          `json:"symbol"`
	TradeType   string          `json:"tradeType"`
	TradeAmount decimal.Decimal `json:"tradeAmount"`
	ExpiryTime  int             `json:"expiryTime"`
}

type placedTrade struct {
	TradeID        string           `json:"tradeId"`
	Symbol         string           `json:"symbol"`
	SymbolName     string           `json:"symbolName"`
	TradeType      domain.Direction `json:"tradeType"`
	TradeAmount    decimal.Decimal  `json:"tradeAmount"`
	ExpiryTime     int              `json:"expiryTime"`
	EntryPrice     decimal.Decimal  `json:"entryPrice"`
	PossiblePayout decimal.Decimal  `json:"possiblePayout"`
	TradeEndTime   time.Time        `json:"tradeEndTime"`
	WalletBalance  decimal.Decimal  `json:"walletBalance"`
}

// PlaceTrade opens a trade for the caller.
// POST /trading/trade
func (h *TradingHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req placeTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || req.TradeType == "" || req.TradeAmount.IsZero() || req.ExpiryTime == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "Missing required fields")
		return
	}

	trade, err := h.svc.PlaceTrade(r.Context(), engine.PlaceRequest{
		UserID:        middleware.UserID(r.Context()),
		Symbol:        req.Symbol,
		Direction:     domain.Direction(strings.ToUpper(req.TradeType)),
		Stake:         req.TradeAmount,
		ExpirySeconds: req.ExpiryTime,
		ClientIP:      middleware.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Trade placed successfully",
		"trade": placedTrade{
			TradeID:        trade.ID,
			Symbol:         trade.Symbol,
			SymbolName:     trade.SymbolName,
			TradeType:      trade.Direction,
			TradeAmount:    trade.Stake,
			ExpiryTime:     trade.ExpirySeconds,
			EntryPrice:     trade.EntryPrice,
			PossiblePayout: trade.PossiblePayout,
			TradeEndTime:   trade.EndTime,
			WalletBalance:  trade.WalletBalanceBefore.Sub(trade.Stake),
		},
	})
}

// ActiveTrades lists the caller's PENDING trades.
// GET /trading/trades/active
func (h *TradingHandler) ActiveTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.svc.ActiveTrades(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"trades":  tradeViews(trades),
	})
}

// TradeHistory pages through the caller's trades, newest first.
// GET /trading/trades/history?page=1&limit=20
func (h *TradingHandler) TradeHistory(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.TradeHistory(r.Context(), middleware.UserID(r.Context()),
		queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"trades":  tradeViews(page.Trades),
		"pagination": map[string]any{
			"page":  page.Page,
			"limit": page.Limit,
			"total": page.Total,
			"pages": page.Pages,
		},
	})
}

// Stats returns the caller's aggregate record.
// GET /trading/stats
func (h *TradingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"totalTrades":   st.TotalTrades,
			"totalWins":     st.WinningTrades,
			"totalLosses":   st.LosingTrades,
			"totalInvested": st.TotalInvested,
			"totalPayout":   st.TotalPayout,
			"totalProfit":   st.Profit(),
			"winRate":       st.WinRate(),
		},
	})
}
