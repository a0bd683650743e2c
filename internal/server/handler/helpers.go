package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// UseNumericDecimals makes decimal amounts and prices encode as JSON numbers
// instead of strings. It sets a process-wide flag; call it once at startup
// before serving.
func UseNumericDecimals() {
	decimal.MarshalJSONWithoutQuotes = true
}

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"code":"INTERNAL_ERROR","message":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends the {success:false, code, message} envelope.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	})
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorTable is checked in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{domain.ErrSymbolInactive, http.StatusNotFound, "SYMBOL_INACTIVE", "Symbol not found or inactive"},
	{domain.ErrInvalidDirection, http.StatusBadRequest, "INVALID_TRADE_TYPE", "Invalid trade type. Use CALL or PUT"},
	{domain.ErrStakeOutOfBounds, http.StatusBadRequest, "INVALID_AMOUNT", "Trade amount is outside the allowed range"},
	{domain.ErrInvalidExpiry, http.StatusBadRequest, "INVALID_EXPIRY", "Invalid expiry time for this symbol"},
	{domain.ErrInsufficientBalance, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "Insufficient wallet balance"},
	{domain.ErrPriceUnavailable, http.StatusServiceUnavailable, "PRICE_UNAVAILABLE", "Price data not available. Please try again."},
	{domain.ErrTradeNotPending, http.StatusConflict, "TRADE_NOT_PENDING", "Trade is already resolved"},
	{domain.ErrReconciliationRequired, http.StatusInternalServerError, "RECONCILIATION_REQUIRED", "Trade held for reconciliation"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "Already exists"},
}

// mapError resolves err to an HTTP status and envelope. Unknown errors are 500.
func mapError(err error) errorMapping {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m
		}
	}
	return errorMapping{err: err, status: http.StatusInternalServerError, code: "INTERNAL_ERROR", message: "Internal server error"}
}

// writeDomainError maps err and logs it. Only 5xx errors log at ERROR.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	m := mapError(err)
	if m.status >= http.StatusInternalServerError && m.status != http.StatusServiceUnavailable {
		logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
	} else {
		logger.DebugContext(r.Context(), "request rejected",
			slog.String("code", m.code),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, m.status, m.code, m.message)
}

// decodeJSON reads a single JSON object from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// queryInt returns the integer query parameter name, or def when it is
// absent or unparsable.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// logHandler attaches the handler name to a logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// tradeView is the JSON rendering of a trade.
type tradeView struct {
	TradeID             string             `json:"tradeId"`
	UserID              string             `json:"userId"`
	Symbol              string             `json:"symbol"`
	SymbolName          string             `json:"symbolName"`
	Category            domain.Category    `json:"category"`
	TradeType           domain.Direction   `json:"tradeType"`
	TradeAmount         decimal.Decimal    `json:"tradeAmount"`
	ExpiryTime          int                `json:"expiryTime"`
	EntryPrice          decimal.Decimal    `json:"entryPrice"`
	ExitPrice           *decimal.Decimal   `json:"exitPrice"`
	TradeStatus         domain.TradeStatus `json:"tradeStatus"`
	PayoutPercent       decimal.Decimal    `json:"payoutPercent"`
	PossiblePayout      decimal.Decimal    `json:"possiblePayout"`
	ActualPayout        decimal.Decimal    `json:"actualPayout"`
	TradeStartTime      time.Time          `json:"tradeStartTime"`
	TradeEndTime        time.Time          `json:"tradeEndTime"`
	WalletBalanceBefore decimal.Decimal    `json:"walletBalanceBefore"`
	WalletBalanceAfter  *decimal.Decimal   `json:"walletBalanceAfter"`
	PriceSource         domain.PriceSource `json:"priceSource"`
	ExitSource          domain.PriceSource `json:"exitSource,omitempty"`
	IsProcessed         bool               `json:"isProcessed"`
	ProcessedAt         *time.Time         `json:"processedAt"`
	Notes               string             `json:"notes,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
}

func newTradeView(t domain.Trade) tradeView {
	return tradeView{
		TradeID:             t.ID,
		UserID:              t.UserID,
		Symbol:              t.Symbol,
		SymbolName:          t.SymbolName,
		Category:            t.Category,
		TradeType:           t.Direction,
		TradeAmount:         t.Stake,
		ExpiryTime:          t.ExpirySeconds,
		EntryPrice:          t.EntryPrice,
		ExitPrice:           t.ExitPrice,
		TradeStatus:         t.Status,
		PayoutPercent:       t.PayoutPercent,
		PossiblePayout:      t.PossiblePayout,
		ActualPayout:        t.ActualPayout,
		TradeStartTime:      t.EntryTime,
		TradeEndTime:        t.EndTime,
		WalletBalanceBefore: t.WalletBalanceBefore,
		WalletBalanceAfter:  t.WalletBalanceAfter,
		PriceSource:         t.EntrySource,
		ExitSource:          t.ExitSource,
		IsProcessed:         t.Processed,
		ProcessedAt:         t.ProcessedAt,
		Notes:               t.Notes,
		CreatedAt:           t.CreatedAt,
	}
}

func tradeViews(trades []domain.Trade) []tradeView {
	out := make([]tradeView, len(trades))
	for i, t := range trades {
		out[i] = newTradeView(t)
	}
	return out
}
