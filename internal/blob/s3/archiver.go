package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// TradeArchiveStore is the slice of the trade store the archiver needs.
type TradeArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Trade, error)
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ObjectChecker reports whether a key is already taken. *Client satisfies it.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveImpl implements domain.Archiver: settled trades processed before the
// cutoff are written as JSONL to archive/trades/YYYY-MM.jsonl and, when
// pruning is on, deleted from the primary store after a successful upload.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	checker ObjectChecker // optional
	trades  TradeArchiveStore
	audit   domain.AuditStore
	prune   bool
	now     func() time.Time
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl. checker may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	checker ObjectChecker,
	trades TradeArchiveStore,
	audit domain.AuditStore,
	prune bool,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		checker: checker,
		trades:  trades,
		audit:   audit,
		prune:   prune,
		now:     time.Now,
	}
}

// tradeRecord is the archived line format.
type tradeRecord struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"user_id"`
	Symbol              string           `json:"symbol"`
	Category            string           `json:"category"`
	Direction           string           `json:"direction"`
	Stake               decimal.Decimal  `json:"stake"`
	ExpirySeconds       int              `json:"expiry_seconds"`
	EntryPrice          decimal.Decimal  `json:"entry_price"`
	EntrySource         string           `json:"entry_source"`
	EntryTime           time.Time        `json:"entry_time"`
	EndTime             time.Time        `json:"end_time"`
	Status              string           `json:"status"`
	ExitPrice           *decimal.Decimal `json:"exit_price,omitempty"`
	ExitSource          string           `json:"exit_source,omitempty"`
	PayoutPercent       decimal.Decimal  `json:"payout_percent"`
	PossiblePayout      decimal.Decimal  `json:"possible_payout"`
	ActualPayout        decimal.Decimal  `json:"actual_payout"`
	WalletBalanceBefore decimal.Decimal  `json:"wallet_balance_before"`
	WalletBalanceAfter  *decimal.Decimal `json:"wallet_balance_after,omitempty"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
	Notes               string           `json:"notes,omitempty"`
}

func toRecord(t domain.Trade) tradeRecord {
	return tradeRecord{
		ID:                  t.ID,
		UserID:              t.UserID,
		Symbol:              t.Symbol,
		Category:            string(t.Category),
		Direction:           string(t.Direction),
		Stake:               t.Stake,
		ExpirySeconds:       t.ExpirySeconds,
		EntryPrice:          t.EntryPrice,
		EntrySource:         string(t.EntrySource),
		EntryTime:           t.EntryTime,
		EndTime:             t.EndTime,
		Status:              string(t.Status),
		ExitPrice:           t.ExitPrice,
		ExitSource:          string(t.ExitSource),
		PayoutPercent:       t.PayoutPercent,
		PossiblePayout:      t.PossiblePayout,
		ActualPayout:        t.ActualPayout,
		WalletBalanceBefore: t.WalletBalanceBefore,
		WalletBalanceAfter:  t.WalletBalanceAfter,
		ProcessedAt:         t.ProcessedAt,
		Notes:               t.Notes,
	}
}

// ArchiveTrades uploads every trade processed before the cutoff and returns
// the count archived. Nothing is deleted unless the upload succeeded.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListResolvedBefore(ctx, before, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]tradeRecord, len(trades))
	for i, t := range trades {
		records[i] = toRecord(t)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path, err := a.freePath(ctx, archivePath("trades", before))
	if err != nil {
		return 0, err
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	count := int64(len(trades))

	var deleted int64
	if a.prune {
		if deleted, err = a.trades.DeleteResolvedBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: archive trades prune: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditTradesArchived, map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, nil
}

// freePath returns path, or a timestamp-suffixed variant when an earlier run
// already wrote that month.
func (a *ArchiveImpl) freePath(ctx context.Context, path string) (string, error) {
	if a.checker == nil {
		return path, nil
	}
	taken, err := a.checker.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades: %w", err)
	}
	if !taken {
		return path, nil
	}
	return fmt.Sprintf("%s-%d.jsonl", path[:len(path)-len(".jsonl")], a.now().Unix()), nil
}

// archivePath builds the key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/trades/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
