package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/store/memory"
)

type fakeWriter struct {
	objects map[string][]byte
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func (w *fakeWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

func seedResolved(t *testing.T, st *memory.Store, id string, processed time.Time) {
	t.Helper()
	ctx := context.Background()
	tr := domain.Trade{
		ID:             id,
		UserID:         "u1",
		Symbol:         "BTCUSDT",
		Direction:      domain.DirectionCall,
		Stake:          decimal.NewFromInt(10),
		EntryPrice:     decimal.NewFromInt(67000),
		Status:         domain.TradePending,
		PossiblePayout: decimal.RequireFromString("18.5"),
		CreatedAt:      processed.Add(-time.Minute),
	}
	if err := st.Trades().Insert(ctx, tr); err != nil {
		t.Fatal(err)
	}
	exit := decimal.NewFromInt(67500)
	if err := st.Trades().UpdateResolved(ctx, id, domain.Resolution{
		Status:       domain.TradeWin,
		ExitPrice:    &exit,
		ExitSource:   domain.SourceBinance,
		ActualPayout: tr.PossiblePayout,
		ProcessedAt:  processed,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveTrades(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedResolved(t, st, "old1", cutoff.Add(-48*time.Hour))
	seedResolved(t, st, "old2", cutoff.Add(-time.Hour))
	seedResolved(t, st, "new1", cutoff.Add(time.Hour))

	w := &fakeWriter{}
	a := NewArchiver(w, w, st.Trades(), st.Audit(), true)

	n, err := a.ArchiveTrades(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("archived = %d, want 2", n)
	}

	body, ok := w.objects["archive/trades/2024-03.jsonl"]
	if !ok {
		t.Fatalf("objects = %v", w.objects)
	}
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec["id"].(string))
		if rec["status"] != "WIN" {
			t.Errorf("status = %v", rec["status"])
		}
	}
	if len(ids) != 2 || ids[0] != "old1" || ids[1] != "old2" {
		t.Errorf("ids = %v", ids)
	}

	if _, err := st.Trades().Get(ctx, "old1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("archived trade not pruned")
	}
	if _, err := st.Trades().Get(ctx, "new1"); err != nil {
		t.Error("trade after cutoff was pruned")
	}

	entries, _ := st.Audit().List(ctx, domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != domain.AuditTradesArchived {
		t.Errorf("audit = %+v", entries)
	}
}

func TestArchiveTradesKeepsRowsOnUploadFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedResolved(t, st, "old1", cutoff.Add(-time.Hour))

	a := NewArchiver(&fakeWriter{err: errors.New("503")}, nil, st.Trades(), st.Audit(), true)
	if _, err := a.ArchiveTrades(ctx, cutoff); err == nil {
		t.Fatal("expected upload error")
	}
	if _, err := st.Trades().Get(ctx, "old1"); err != nil {
		t.Fatalf("trade deleted after failed upload: %v", err)
	}
}

func TestArchiveTradesAvoidsOverwrite(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedResolved(t, st, "old1", cutoff.Add(-time.Hour))

	w := &fakeWriter{objects: map[string][]byte{"archive/trades/2024-03.jsonl": []byte("previous\n")}}
	a := NewArchiver(w, w, st.Trades(), nil, false)
	a.now = func() time.Time { return time.Unix(1709251200, 0) }

	if _, err := a.ArchiveTrades(ctx, cutoff); err != nil {
		t.Fatal(err)
	}
	if string(w.objects["archive/trades/2024-03.jsonl"]) != "previous\n" {
		t.Error("existing archive overwritten")
	}
	if _, ok := w.objects["archive/trades/2024-03-1709251200.jsonl"]; !ok {
		t.Errorf("objects = %v", w.objects)
	}
	if _, err := st.Trades().Get(ctx, "old1"); err != nil {
		t.Error("trade pruned with prune disabled")
	}
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := withScheme(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("withScheme(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}
