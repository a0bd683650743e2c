package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/store/memory"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeOracle struct {
	mu     sync.RWMutex
	ticks  map[string]domain.PriceTick
	now    func() time.Time
	maxAge time.Duration
}

func (o *fakeOracle) set(symbol, price string, src domain.PriceSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks[symbol] = domain.PriceTick{
		Symbol:    symbol,
		Price:     decimal.RequireFromString(price),
		Timestamp: o.now(),
		Source:    src,
	}
}

func (o *fakeOracle) clear(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.ticks, symbol)
}

func (o *fakeOracle) GetPrice(symbol string) (domain.PriceTick, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.ticks[symbol]
	return t, ok
}

func (o *fakeOracle) FreshPrice(symbol string) (domain.PriceTick, error) {
	t, ok := o.GetPrice(symbol)
	if !ok || t.Age(o.now()) > o.maxAge {
		return domain.PriceTick{}, fmt.Errorf("fake oracle %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return t, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) count(event string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e == event {
			n++
		}
	}
	return n
}

// flakyCommit runs fn, then fails the commit when armed. fn's writes are
// rolled back, leaving the outcome unknown to the caller.
type flakyCommit struct {
	inner *memory.Store
	armed bool
}

var errCommit = errors.New("connection reset during commit")

func (f *flakyCommit) WithinTx(ctx context.Context, fn func(domain.Tx) error) error {
	return f.inner.WithinTx(ctx, func(tx domain.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if f.armed {
			return errCommit
		}
		return nil
	})
}

type harness struct {
	eng     *Engine
	store   *memory.Store
	oracle  *fakeOracle
	clock   *clock
	bus     *memory.Bus
	alerter *recordingAlerter
	tx      *flakyCommit
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: t0}
	st := memory.New()
	for _, sym := range domain.DefaultSymbols() {
		if err := st.Symbols().Upsert(ctx, sym); err != nil {
			t.Fatal(err)
		}
	}
	maint := domain.DefaultSymbols()[0]
	maint.Ticker, maint.Status = "DOGEUSDT", domain.SymbolMaintenance
	_ = st.Symbols().Upsert(ctx, maint)
	st.SetBalance("u1", decimal.NewFromInt(100))

	orc := &fakeOracle{ticks: map[string]domain.PriceTick{}, now: clk.now, maxAge: 10 * time.Second}
	orc.set("BTCUSDT", "67000", domain.SourceBinance)
	orc.set("DOGEUSDT", "0.1", domain.SourceBinance)

	bus := memory.NewBus()
	al := &recordingAlerter{}
	tx := &flakyCommit{inner: st}
	ids := 0
	var idMu sync.Mutex
	eng := New(cfg, Deps{
		Symbols: st.Symbols(),
		Wallet:  st.Wallet(),
		Trades:  st.Trades(),
		Tx:      tx,
		Oracle:  orc,
		Audit:   st.Audit(),
		Bus:     bus,
		Alerter: al,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(clk.now),
		WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("t%03d", ids)
		}),
	)
	return &harness{eng: eng, store: st, oracle: orc, clock: clk, bus: bus, alerter: al, tx: tx}
}

func (h *harness) balance(t *testing.T, user string) decimal.Decimal {
	t.Helper()
	b, err := h.store.Wallet().Balance(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func btcCall(stake string) PlaceRequest {
	return PlaceRequest{
		UserID:        "u1",
		Symbol:        "BTCUSDT",
		Direction:     domain.DirectionCall,
		Stake:         decimal.RequireFromString(stake),
		ExpirySeconds: 60,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlaceTradeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PlaceRequest)
		setup  func(*harness)
		want   error
	}{
		{
			name:   "unknown symbol wins over bad direction",
			mutate: func(r *PlaceRequest) { r.Symbol = "XRPUSDT"; r.Direction = "UP" },
			want:   domain.ErrSymbolInactive,
		},
		{
			name:   "maintenance symbol",
			mutate: func(r *PlaceRequest) { r.Symbol = "DOGEUSDT" },
			want:   domain.ErrSymbolInactive,
		},
		{
			name:   "bad direction wins over bad stake",
			mutate: func(r *PlaceRequest) { r.Direction = "UP"; r.Stake = dec("5000") },
			want:   domain.ErrInvalidDirection,
		},
		{
			name:   "stake above symbol max wins over bad expiry",
			mutate: func(r *PlaceRequest) { r.Stake = dec("5000"); r.ExpirySeconds = 45 },
			want:   domain.ErrStakeOutOfBounds,
		},
		{
			name:   "zero stake",
			mutate: func(r *PlaceRequest) { r.Stake = decimal.Zero },
			want:   domain.ErrStakeOutOfBounds,
		},
		{
			name:   "sub-cent stake",
			mutate: func(r *PlaceRequest) { r.Stake = dec("10.005") },
			want:   domain.ErrStakeOutOfBounds,
		},
		{
			name:   "below global minimum",
			mutate: func(r *PlaceRequest) { r.Stake = dec("0.5") },
			want:   domain.ErrStakeOutOfBounds,
		},
		{
			name:   "expiry not allowed wins over balance",
			mutate: func(r *PlaceRequest) { r.ExpirySeconds = 45; r.Stake = dec("500") },
			want:   domain.ErrInvalidExpiry,
		},
		{
			name:   "insufficient balance wins over missing price",
			mutate: func(r *PlaceRequest) { r.Symbol = "ETHUSDT"; r.Stake = dec("500") },
			want:   domain.ErrInsufficientBalance,
		},
		{
			name:   "unknown user",
			mutate: func(r *PlaceRequest) { r.UserID = "ghost" },
			want:   domain.ErrNotFound,
		},
		{
			name:   "no price",
			mutate: func(r *PlaceRequest) { r.Symbol = "ETHUSDT" },
			want:   domain.ErrPriceUnavailable,
		},
		{
			name:   "stale price",
			setup:  func(h *harness) { h.clock.advance(11 * time.Second) },
			mutate: func(*PlaceRequest) {},
			want:   domain.ErrPriceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			if tt.setup != nil {
				tt.setup(h)
			}
			req := btcCall("10")
			tt.mutate(&req)

			_, err := h.eng.PlaceTrade(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := h.balance(t, "u1"); !got.Equal(dec("100")) {
				t.Errorf("balance = %s, want 100 (no side effects)", got)
			}
			if n, _ := h.store.Trades().CountByUser(context.Background(), "u1"); n != 0 {
				t.Errorf("trades = %d, want 0", n)
			}
		})
	}
}

func TestPlaceTradeCentStake(t *testing.T) {
	h := newHarness(t, Config{})
	tr, err := h.eng.PlaceTrade(context.Background(), btcCall("10.25"))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.PossiblePayout.Equal(dec("18.9625")) {
		t.Errorf("possible payout = %s, want 18.9625", tr.PossiblePayout)
	}
	if got := h.balance(t, "u1"); !got.Equal(dec("89.75")) {
		t.Errorf("balance = %s, want 89.75", got)
	}
}

func TestPlaceTrade(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := h.bus.Subscribe(ctx, domain.ChannelTrades)

	req := btcCall("10")
	req.ClientIP, req.UserAgent = "10.0.0.1", "test-agent"
	tr, err := h.eng.PlaceTrade(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if tr.Status != domain.TradePending || tr.EntrySource != domain.SourceBinance {
		t.Errorf("status=%s source=%s", tr.Status, tr.EntrySource)
	}
	if !tr.EntryPrice.Equal(dec("67000")) {
		t.Errorf("entry = %s", tr.EntryPrice)
	}
	if !tr.EndTime.Equal(tr.EntryTime.Add(60 * time.Second)) {
		t.Errorf("end = %s, entry = %s", tr.EndTime, tr.EntryTime)
	}
	if !tr.PossiblePayout.Equal(dec("18.5")) {
		t.Errorf("possible payout = %s, want 18.5", tr.PossiblePayout)
	}
	if !tr.WalletBalanceBefore.Equal(dec("100")) || tr.WalletBalanceAfter != nil {
		t.Errorf("balance before=%s after=%v", tr.WalletBalanceBefore, tr.WalletBalanceAfter)
	}
	if !tr.StakeDebited || tr.ClientIP != "10.0.0.1" || tr.UserAgent != "test-agent" {
		t.Errorf("trade = %+v", tr)
	}
	if got := h.balance(t, "u1"); !got.Equal(dec("90")) {
		t.Errorf("balance = %s, want 90", got)
	}

	stored, err := h.store.Trades().Get(ctx, tr.ID)
	if err != nil || stored.Status != domain.TradePending {
		t.Fatalf("stored = %+v, err = %v", stored, err)
	}

	select {
	case raw := <-events:
		var evt domain.TradeEvent
		_ = json.Unmarshal(raw, &evt)
		if evt.Event != domain.TradeEventPlaced || evt.TradeID != tr.ID {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Error("no trade event")
	}
}

func TestResolveOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		dir        domain.Direction
		exit       string
		tieRefunds bool
		status     domain.TradeStatus
		payout     string
		balance    string
	}{
		{"call up wins", domain.DirectionCall, "67500", false, domain.TradeWin, "18.5", "108.5"},
		{"call down loses", domain.DirectionCall, "66500", false, domain.TradeLoss, "0", "90"},
		{"put down wins", domain.DirectionPut, "66500", false, domain.TradeWin, "18.5", "108.5"},
		{"put up loses", domain.DirectionPut, "67500", false, domain.TradeLoss, "0", "90"},
		{"tie loses", domain.DirectionCall, "67000", false, domain.TradeLoss, "0", "90"},
		{"tie refunds", domain.DirectionPut, "67000", true, domain.TradeCancelled, "10", "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{TieRefunds: tt.tieRefunds})
			ctx := context.Background()
			req := btcCall("10")
			req.Direction = tt.dir
			tr, err := h.eng.PlaceTrade(ctx, req)
			if err != nil {
				t.Fatal(err)
			}

			h.clock.advance(60 * time.Second)
			h.oracle.set("BTCUSDT", tt.exit, domain.SourceTwelveData)

			rep, err := h.eng.ResolveExpired(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if rep.Resolved() != 1 {
				t.Fatalf("report = %+v", rep)
			}

			got, _ := h.store.Trades().Get(ctx, tr.ID)
			if got.Status != tt.status {
				t.Errorf("status = %s, want %s", got.Status, tt.status)
			}
			if got.ExitPrice == nil || !got.ExitPrice.Equal(dec(tt.exit)) || got.ExitSource != domain.SourceTwelveData {
				t.Errorf("exit = %v source = %s", got.ExitPrice, got.ExitSource)
			}
			if got.ProcessedAt == nil || !got.Processed {
				t.Error("processedAt not set")
			}
			if !got.ActualPayout.Equal(dec(tt.payout)) {
				t.Errorf("payout = %s, want %s", got.ActualPayout, tt.payout)
			}
			bal := h.balance(t, "u1")
			if !bal.Equal(dec(tt.balance)) {
				t.Errorf("balance = %s, want %s", bal, tt.balance)
			}
			if got.WalletBalanceAfter == nil || !got.WalletBalanceAfter.Equal(bal) {
				t.Errorf("balance after = %v, want %s", got.WalletBalanceAfter, bal)
			}
			if !got.EndTime.Equal(tr.EndTime) || !got.PossiblePayout.Equal(tr.PossiblePayout) {
				t.Error("end time or possible payout changed on settlement")
			}
		})
	}
}

func TestNoEarlySettlement(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	tr, err := h.eng.PlaceTrade(ctx, btcCall("10"))
	if err != nil {
		t.Fatal(err)
	}

	h.clock.advance(59 * time.Second)
	h.oracle.set("BTCUSDT", "70000", domain.SourceBinance)
	if rep, _ := h.eng.ResolveExpired(ctx); rep.Resolved() != 0 {
		t.Fatalf("settled before expiry: %+v", rep)
	}

	h.clock.advance(time.Second)
	if rep, _ := h.eng.ResolveExpired(ctx); rep.Won != 1 {
		t.Fatalf("not settled at expiry: %+v", rep)
	}
	got, _ := h.store.Trades().Get(ctx, tr.ID)
	if got.Status != domain.TradeWin {
		t.Errorf("status = %s", got.Status)
	}
}

func TestMissingPriceDefersSettlement(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	tr, _ := h.eng.PlaceTrade(ctx, btcCall("10"))

	h.clock.advance(2 * time.Minute)
	h.oracle.clear("BTCUSDT")
	rep, _ := h.eng.ResolveExpired(ctx)
	if rep.NoPrice != 1 || rep.Resolved() != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if got, _ := h.store.Trades().Get(ctx, tr.ID); got.Status != domain.TradePending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}

	// A stale tick is still good enough for settlement.
	h.oracle.set("BTCUSDT", "66000", domain.SourceFallback)
	h.clock.advance(time.Hour)
	rep, _ = h.eng.ResolveExpired(ctx)
	if rep.Lost != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestConcurrentSweepsNeverDoublePay(t *testing.T) {
	h := newHarness(t, Config{Workers: 4})
	ctx := context.Background()
	h.store.SetBalance("u1", dec("1000"))

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := h.eng.PlaceTrade(ctx, btcCall("10")); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.advance(time.Minute)
	h.oracle.set("BTCUSDT", "67500", domain.SourceBinance)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := h.eng.ResolveExpired(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += rep.Won
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != n {
		t.Fatalf("won across sweeps = %d, want %d", total, n)
	}
	want := dec("1000").Sub(dec("200")).Add(dec("18.5").Mul(decimal.NewFromInt(n)))
	if got := h.balance(t, "u1"); !got.Equal(want) {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}

func TestCancelTrade(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	tr, _ := h.eng.PlaceTrade(ctx, btcCall("10"))
	h.oracle.set("BTCUSDT", "67250", domain.SourceTwelveData)

	got, err := h.eng.CancelTrade(ctx, tr.ID, "feed incident")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TradeCancelled || !got.ActualPayout.Equal(dec("10")) || got.Notes != "feed incident" {
		t.Errorf("cancelled = %+v", got)
	}
	stored, _ := h.store.Trades().Get(ctx, tr.ID)
	if stored.ExitPrice == nil || !stored.ExitPrice.Equal(dec("67250")) || stored.ExitSource != domain.SourceTwelveData {
		t.Errorf("stored exit = %v from %q, want 67250 from twelvedata", stored.ExitPrice, stored.ExitSource)
	}
	if stored.ProcessedAt == nil {
		t.Error("processedAt not set")
	}
	if bal := h.balance(t, "u1"); !bal.Equal(dec("100")) {
		t.Errorf("balance = %s, want refund to 100", bal)
	}
	if got.WalletBalanceAfter == nil || !got.WalletBalanceAfter.Equal(dec("100")) {
		t.Errorf("balance after = %v", got.WalletBalanceAfter)
	}

	if _, err := h.eng.CancelTrade(ctx, tr.ID, ""); !errors.Is(err, domain.ErrTradeNotPending) {
		t.Errorf("second cancel err = %v", err)
	}
	if _, err := h.eng.CancelTrade(ctx, "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing cancel err = %v", err)
	}

	entries, _ := h.store.Audit().List(ctx, domain.ListOpts{})
	found := false
	for _, e := range entries {
		if e.Event == domain.AuditTradeCancelled && e.Detail["trade_id"] == tr.ID {
			found = true
		}
	}
	if !found {
		t.Error("cancel not audited")
	}
}

func TestCancelTradeWithoutPriceUsesEntry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	tr, err := h.eng.PlaceTrade(ctx, btcCall("10"))
	if err != nil {
		t.Fatal(err)
	}
	h.oracle.clear("BTCUSDT")

	got, err := h.eng.CancelTrade(ctx, tr.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ExitPrice == nil || !got.ExitPrice.Equal(tr.EntryPrice) || got.ExitSource != tr.EntrySource {
		t.Fatalf("exit = %v from %q, want entry %s from %q", got.ExitPrice, got.ExitSource, tr.EntryPrice, tr.EntrySource)
	}
	stored, _ := h.store.Trades().Get(ctx, tr.ID)
	if stored.ExitPrice == nil || !stored.ExitPrice.Equal(dec("67000")) {
		t.Errorf("stored exit = %v", stored.ExitPrice)
	}
}

func TestAmbiguousCommitQuarantinesTrade(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	tr, _ := h.eng.PlaceTrade(ctx, btcCall("10"))

	h.clock.advance(time.Minute)
	h.oracle.set("BTCUSDT", "68000", domain.SourceBinance)
	h.tx.armed = true

	rep, err := h.eng.ResolveExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Quarantined != 1 || rep.Resolved() != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if q := h.eng.Quarantined(); len(q) != 1 || q[0].TradeID != tr.ID {
		t.Fatalf("quarantined = %+v", q)
	}
	if h.alerter.count(domain.AuditReconciliation) != 1 {
		t.Error("reconciliation not alerted")
	}

	// Never retried automatically, even once commits work again.
	h.tx.armed = false
	rep, _ = h.eng.ResolveExpired(ctx)
	if rep.Quarantined != 1 || rep.Won != 0 {
		t.Fatalf("second sweep = %+v", rep)
	}
	if got, _ := h.store.Trades().Get(ctx, tr.ID); got.Status != domain.TradePending {
		t.Errorf("status = %s", got.Status)
	}

	if !h.eng.Release(tr.ID) {
		t.Fatal("release failed")
	}
	if rep, _ = h.eng.ResolveExpired(ctx); rep.Won != 1 {
		t.Fatalf("after release = %+v", rep)
	}
}

func TestSweepPagesPastUnpricedTrades(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2})
	ctx := context.Background()
	h.oracle.set("ETHUSDT", "2600", domain.SourceBinance)

	eth := btcCall("10")
	eth.Symbol = "ETHUSDT"
	for i := 0; i < 2; i++ {
		if _, err := h.eng.PlaceTrade(ctx, eth); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.advance(time.Second)
	btc, err := h.eng.PlaceTrade(ctx, btcCall("10"))
	if err != nil {
		t.Fatal(err)
	}

	// The two oldest trades fill a batch and cannot settle.
	h.clock.advance(time.Minute)
	h.oracle.clear("ETHUSDT")
	h.oracle.set("BTCUSDT", "67500", domain.SourceBinance)

	rep, err := h.eng.ResolveExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.NoPrice != 2 || rep.Won != 1 || rep.Scanned != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if got, _ := h.store.Trades().Get(ctx, btc.ID); got.Status != domain.TradeWin {
		t.Errorf("later trade status = %s, want WIN", got.Status)
	}
}

func TestLossDoesNotNeedReconciliation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, _ = h.eng.PlaceTrade(ctx, btcCall("10"))

	h.clock.advance(time.Minute)
	h.oracle.set("BTCUSDT", "60000", domain.SourceBinance)
	h.tx.armed = true

	rep, _ := h.eng.ResolveExpired(ctx)
	if rep.Failed != 1 || rep.Quarantined != 0 {
		t.Fatalf("report = %+v", rep)
	}
	h.tx.armed = false
	if rep, _ = h.eng.ResolveExpired(ctx); rep.Lost != 1 {
		t.Fatalf("retry = %+v", rep)
	}
}

func TestHistoryAndStats(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.eng.PlaceTrade(ctx, btcCall("10")); err != nil {
			t.Fatal(err)
		}
		h.clock.advance(time.Second)
	}

	page, err := h.eng.TradeHistory(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Trades) != 2 || page.Total != 3 || page.Pages != 2 {
		t.Fatalf("page 1 = %d trades, total %d, pages %d", len(page.Trades), page.Total, page.Pages)
	}
	page, _ = h.eng.TradeHistory(ctx, "u1", 2, 2)
	if len(page.Trades) != 1 {
		t.Fatalf("page 2 = %d trades", len(page.Trades))
	}

	active, _ := h.eng.ActiveTrades(ctx, "u1")
	if len(active) != 3 {
		t.Fatalf("active = %d", len(active))
	}

	h.clock.advance(time.Minute)
	h.oracle.set("BTCUSDT", "67500", domain.SourceBinance)
	if _, err := h.eng.ResolveExpired(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := h.eng.Stats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalTrades != 3 || st.WinningTrades != 3 || !st.TotalInvested.Equal(dec("30")) || !st.TotalPayout.Equal(dec("55.5")) {
		t.Errorf("stats = %+v", st)
	}
	if !st.Profit().Equal(dec("25.5")) || !st.WinRate().Equal(dec("100")) {
		t.Errorf("profit = %s, win rate = %s", st.Profit(), st.WinRate())
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		dir         domain.Direction
		entry, exit string
		refund      bool
		want        domain.TradeStatus
	}{
		{domain.DirectionCall, "1.0850", "1.0851", false, domain.TradeWin},
		{domain.DirectionCall, "1.0850", "1.0849", false, domain.TradeLoss},
		{domain.DirectionPut, "1.0850", "1.0849", false, domain.TradeWin},
		{domain.DirectionPut, "1.0850", "1.0851", false, domain.TradeLoss},
		{domain.DirectionCall, "1.0850", "1.085", false, domain.TradeLoss},
		{domain.DirectionPut, "1.0850", "1.085", true, domain.TradeCancelled},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s %s->%s refund=%v", tt.dir, tt.entry, tt.exit, tt.refund)
		t.Run(name, func(t *testing.T) {
			if got := Outcome(tt.dir, dec(tt.entry), dec(tt.exit), tt.refund); got != tt.want {
				t.Fatalf("Outcome = %s, want %s", got, tt.want)
			}
		})
	}
}
