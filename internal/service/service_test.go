package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCache struct {
	mu    sync.Mutex
	ticks map[string]domain.PriceTick
	err   error
}

func newFakeCache() *fakeCache { return &fakeCache{ticks: make(map[string]domain.PriceTick)} }

func (c *fakeCache) SetTick(_ context.Context, t domain.PriceTick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.ticks[t.Symbol] = t
	return nil
}

func (c *fakeCache) GetTick(_ context.Context, symbol string) (domain.PriceTick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.ticks[symbol]
	if !ok {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	return t, nil
}

func (c *fakeCache) GetTicks(_ context.Context, symbols []string) (map[string]domain.PriceTick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]domain.PriceTick)
	for _, s := range symbols {
		if t, ok := c.ticks[s]; ok {
			out[s] = t
		}
	}
	return out, nil
}

// fakeOracle replays its ticks on Subscribe, like the real oracle.
type fakeOracle struct {
	ticks map[string]domain.PriceTick
}

func (o *fakeOracle) Subscribe(fn func(domain.PriceTick)) func() {
	for _, t := range o.ticks {
		fn(t)
	}
	return func() {}
}

func (o *fakeOracle) GetPrice(symbol string) (domain.PriceTick, bool) {
	t, ok := o.ticks[symbol]
	return t, ok
}

func tick(symbol string, price int64, src domain.PriceSource) domain.PriceTick {
	return domain.PriceTick{
		Symbol:    symbol,
		Price:     decimal.NewFromInt(price),
		Change24h: decimal.RequireFromString("0.5"),
		Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Source:    src,
	}
}

func TestPriceServiceMirrorsAndPublishes(t *testing.T) {
	bus := memory.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prices, err := bus.Subscribe(ctx, domain.ChannelPrices)
	if err != nil {
		t.Fatal(err)
	}

	cache := newFakeCache()
	orc := &fakeOracle{ticks: map[string]domain.PriceTick{"BTCUSDT": tick("BTCUSDT", 67000, domain.SourceBinance)}}
	svc := NewPriceService(orc, cache, bus, 8, discardLogger())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case raw := <-prices:
		var evt domain.PriceEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatal(err)
		}
		if evt.Event != "price_update" || evt.Symbol != "BTCUSDT" || !evt.Price.Equal(decimal.NewFromInt(67000)) || evt.Source != domain.SourceBinance {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no price event published")
	}

	if _, err := cache.GetTick(ctx, "BTCUSDT"); err != nil {
		t.Errorf("tick not mirrored: %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}

func TestPriceServiceDropsOnFullQueue(t *testing.T) {
	svc := NewPriceService(&fakeOracle{}, nil, nil, 1, discardLogger())
	svc.enqueue(tick("A", 1, domain.SourceFallback))
	svc.enqueue(tick("B", 1, domain.SourceFallback))
	svc.enqueue(tick("C", 1, domain.SourceFallback))
	if got := svc.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestPriceServiceHandleTickCacheError(t *testing.T) {
	cache := newFakeCache()
	cache.err = errors.New("redis down")
	svc := NewPriceService(&fakeOracle{}, cache, memory.NewBus(), 1, discardLogger())
	if err := svc.HandleTick(context.Background(), tick("BTCUSDT", 1, domain.SourceBinance)); err == nil {
		t.Fatal("expected cache error")
	}
}

func TestMarketServiceListMarkets(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for _, sym := range domain.DefaultSymbols() {
		if err := st.Symbols().Upsert(ctx, sym); err != nil {
			t.Fatal(err)
		}
	}
	inactive := domain.DefaultSymbols()[0]
	inactive.Ticker, inactive.Status = "DOGEUSDT", domain.SymbolMaintenance
	_ = st.Symbols().Upsert(ctx, inactive)

	orc := &fakeOracle{ticks: map[string]domain.PriceTick{
		"BTCUSDT": tick("BTCUSDT", 67000, domain.SourceBinance),
	}}
	cache := newFakeCache()
	_ = cache.SetTick(ctx, tick("ETHUSDT", 2600, domain.SourceFallbackSimulation))

	svc := NewMarketService(st.Symbols(), orc, cache, discardLogger())

	all, err := svc.ListMarkets(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(domain.DefaultSymbols()) {
		t.Fatalf("markets = %d, want %d (inactive excluded)", len(all), len(domain.DefaultSymbols()))
	}
	if all[0].Ticker != "BTCUSDT" || all[0].CurrentPrice == nil || all[0].PriceSource != domain.SourceBinance {
		t.Errorf("first market = %+v", all[0])
	}
	if all[1].Ticker != "ETHUSDT" || all[1].CurrentPrice == nil || all[1].PriceSource != domain.SourceFallbackSimulation {
		t.Errorf("second market = %+v", all[1])
	}
	if all[2].CurrentPrice != nil {
		t.Errorf("BNBUSDT has a price but none was published")
	}

	popular, err := svc.ListMarkets(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range popular {
		if !m.IsPopular {
			t.Errorf("%s listed as popular", m.Ticker)
		}
	}
	if len(popular) != 5 {
		t.Errorf("popular = %d, want 5", len(popular))
	}
}
