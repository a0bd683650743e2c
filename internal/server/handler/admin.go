package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/engine"
)

// AdminService is the operator surface of the engine.
type AdminService interface {
	CancelTrade(ctx context.Context, tradeID, reason string) (domain.Trade, error)
	Quarantined() []engine.Quarantined
	Release(tradeID string) bool
}

// ArchiveRunner runs one archive pass and returns the trades moved.
type ArchiveRunner interface {
	Run(ctx context.Context) (int64, error)
}

// AdminHandler serves the /admin routes.
type AdminHandler struct {
	svc     AdminService
	archive ArchiveRunner // nil when archiving is disabled
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archive and audit may be nil.
func NewAdminHandler(svc AdminService, archive ArchiveRunner, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, archive: archive, audit: audit, logger: logHandler(logger, "admin")}
}

// CancelTrade cancels a PENDING trade and refunds its stake.
// POST /admin/trades/{id}/cancel
func (h *AdminHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// The body is optional.
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	trade, err := h.svc.CancelTrade(r.Context(), r.PathValue("id"), strings.TrimSpace(body.Reason))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Trade cancelled",
		"trade":   newTradeView(trade),
	})
}

// ListQuarantined lists trades held for manual reconciliation.
// GET /admin/quarantine
func (h *AdminHandler) ListQuarantined(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"trades":  h.svc.Quarantined(),
	})
}

// ReleaseQuarantined returns a reconciled trade to automatic settlement.
// POST /admin/quarantine/{id}/release
func (h *AdminHandler) ReleaseQuarantined(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.svc.Release(id) {
		writeError(w, http.StatusNotFound, "NOT_QUARANTINED", "trade is not quarantined")
		return
	}
	h.logger.InfoContext(r.Context(), "trade released from quarantine", slog.String("trade_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tradeId": id})
}

// TriggerArchive runs an archive pass synchronously.
// POST /admin/archive
func (h *AdminHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "archiving is not enabled")
		return
	}
	n, err := h.archive.Run(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "archived": n})
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ListAudit returns recent audit entries, newest first, optionally filtered
// to one event type.
// GET /admin/audit?event=trade_cancelled&limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "AUDIT_DISABLED", "audit log is not configured")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := max(queryInt(r, "offset", 0), 0)

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	var (
		entries []domain.AuditEntry
		err     error
	)
	if event := strings.TrimSpace(r.URL.Query().Get("event")); event != "" {
		entries, err = h.audit.ListByEvent(r.Context(), event, opts)
	} else {
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	views := make([]auditView, len(entries))
	for i, e := range entries {
		views[i] = auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": views})
}
