package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// AuditStore is the append-only audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit %s: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: insert audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, `SELECT id, event, detail, created_at FROM audit_log WHERE TRUE`, nil, opts)
}

// ListByEvent returns entries of one event type, newest first.
func (s *AuditStore) ListByEvent(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, `SELECT id, event, detail, created_at FROM audit_log WHERE event = $1`, []any{event}, opts)
}

func (s *AuditStore) list(ctx context.Context, base string, args []any, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := withListOpts(base, args, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

func scanAudit(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e   domain.AuditEntry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshal detail of audit %d: %w", e.ID, err)
		}
	}
	return e, nil
}
