package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/config"
	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/store/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWirePaperMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Paper.Wallets = map[string]decimal.Decimal{"demo": decimal.NewFromInt(500)}

	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	ctx := context.Background()
	if _, err := deps.Symbols.GetActive(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("BTCUSDT not seeded: %v", err)
	}
	bal, err := deps.Wallet.Balance(ctx, "demo")
	if err != nil || !bal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("demo balance = %s, %v", bal, err)
	}
	if deps.Bus == nil || deps.Tx == nil || deps.Notifier == nil {
		t.Fatalf("paper deps incomplete: %+v", deps)
	}
	if deps.RateLimiter != nil || deps.Locks != nil || deps.PriceCache != nil {
		t.Fatal("paper mode wired external caches")
	}
	if deps.Archiver != nil || len(deps.Checks) != 0 {
		t.Fatalf("paper mode wired archive or checks: %v", deps.Checks)
	}
}

func TestSeedSymbolsKeepsExisting(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	edited := domain.DefaultSymbols()[0]
	edited.PayoutPercent = decimal.NewFromInt(70)
	if err := st.Symbols().Upsert(ctx, edited); err != nil {
		t.Fatal(err)
	}

	n, err := seedSymbols(ctx, st.Symbols())
	if err != nil {
		t.Fatal(err)
	}
	if want := len(domain.DefaultSymbols()) - 1; n != want {
		t.Fatalf("inserted %d, want %d", n, want)
	}
	got, _ := st.Symbols().Get(ctx, edited.Ticker)
	if !got.PayoutPercent.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("seed overwrote operator edit: payout %s", got.PayoutPercent)
	}

	if n, _ := seedSymbols(ctx, st.Symbols()); n != 0 {
		t.Fatalf("second seed inserted %d", n)
	}
}
