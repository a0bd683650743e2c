package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/oracle"
	"github.com/alanyoungcy/startraders/internal/platform/binance"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	mu       sync.Mutex
	ticks    []domain.PriceTick
	engaged  [][]string
	released [][]string
}

func (s *fakeSink) Update(t domain.PriceTick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return true
}

func (s *fakeSink) EngageSimulation(symbols ...string) {
	s.engaged = append(s.engaged, symbols)
}

func (s *fakeSink) ReleaseSimulation(symbols ...string) {
	s.released = append(s.released, symbols)
}

// scriptedStream runs one step per Stream call.
type scriptedStream struct {
	steps []func(onConnected func(), onTicker func(binance.Ticker)) error
	calls int
}

func (s *scriptedStream) Stream(ctx context.Context, onConnected func(), onTicker func(binance.Ticker), onBad func(error)) error {
	i := s.calls
	s.calls++
	if i < len(s.steps) {
		return s.steps[i](onConnected, onTicker)
	}
	return errors.New("dial refused")
}

func failStep(func(), func(binance.Ticker)) error { return errors.New("dial refused") }

func TestBinanceFeedBackoffThenFallback(t *testing.T) {
	sink := &fakeSink{}
	stream := &scriptedStream{}
	f := NewBinanceFeed(BinanceFeedConfig{
		Symbols:              []string{"btcusdt", "ETHUSDT"},
		MaxReconnectAttempts: 3,
		ReconnectBase:        5 * time.Second,
		RecoveryInterval:     5 * time.Minute,
	}, stream, sink, discardLogger())

	var fallbacks int
	f.OnFallback(func([]string) { fallbacks++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delays []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 6 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := f.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 5 * time.Minute, 5 * time.Minute, 5 * time.Minute}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, delays[i], want[i])
		}
	}
	if len(sink.engaged) != 1 || fallbacks != 1 {
		t.Fatalf("engaged %d times, fallback hook %d times; want 1", len(sink.engaged), fallbacks)
	}
	if got := sink.engaged[0]; len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("engaged symbols = %v", got)
	}
}

func TestBinanceFeedFallbackReachesOracle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	orc := oracle.New(oracle.Config{
		MaxTickAge:        10 * time.Second,
		PreferenceWindow:  15 * time.Second,
		VolatilityPercent: 1,
		FallbackPrices:    map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(67000)},
	}, discardLogger(), oracle.WithClock(clock))
	orc.Seed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &scriptedStream{steps: []func(func(), func(binance.Ticker)) error{
		func(onConnected func(), onTicker func(binance.Ticker)) error {
			onConnected()
			onTicker(binance.Ticker{Symbol: "BTCUSDT", Close: decimal.NewFromInt(67100)})
			return errors.New("connection reset")
		},
	}}
	f := NewBinanceFeed(BinanceFeedConfig{
		Symbols:              []string{"BTCUSDT"},
		MaxReconnectAttempts: 3,
		ReconnectBase:        5 * time.Second,
		RecoveryInterval:     5 * time.Minute,
	}, stream, orc, discardLogger())
	f.now = clock
	sleeps := 0
	f.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 4 {
			// First recovery wait: reconnects are exhausted.
			cancel()
			return ctx.Err()
		}
		now = now.Add(d)
		return nil
	}

	if tick, _ := orc.GetPrice("BTCUSDT"); tick.Source != domain.SourceFallback {
		t.Fatalf("seeded source = %s", tick.Source)
	}
	if err := f.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if tick, _ := orc.GetPrice("BTCUSDT"); tick.Source != domain.SourceBinance {
		t.Fatalf("source before simulation = %s, want binance", tick.Source)
	}
	if got := orc.Simulating(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("simulating = %v", got)
	}

	orc.SimulateOnce()
	tick, ok := orc.GetPrice("BTCUSDT")
	if !ok || tick.Source != domain.SourceFallbackSimulation {
		t.Fatalf("tick = %+v, want source %s", tick, domain.SourceFallbackSimulation)
	}
	// The walk is centred on the last live price.
	lo, hi := decimal.RequireFromString("66429"), decimal.RequireFromString("67771")
	if tick.Price.LessThan(lo) || tick.Price.GreaterThan(hi) {
		t.Errorf("simulated price %s outside [%s, %s]", tick.Price, lo, hi)
	}
	if _, err := orc.FreshPrice("BTCUSDT"); err != nil {
		t.Errorf("simulated tick not fresh: %v", err)
	}
}

func TestBinanceFeedRecoveryReleasesSimulation(t *testing.T) {
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &scriptedStream{steps: []func(func(), func(binance.Ticker)) error{
		failStep, failStep, failStep,
		func(onConnected func(), onTicker func(binance.Ticker)) error {
			onConnected()
			onTicker(binance.Ticker{Symbol: "BTCUSDT", Close: decimal.NewFromInt(67100), ChangePct: decimal.RequireFromString("0.4")})
			onTicker(binance.Ticker{Symbol: "XRPUSDT", Close: decimal.NewFromInt(1)})
			cancel()
			return ctx.Err()
		},
	}}
	f := NewBinanceFeed(BinanceFeedConfig{
		Symbols:              []string{"BTCUSDT"},
		MaxReconnectAttempts: 2,
		ReconnectBase:        time.Second,
		RecoveryInterval:     time.Minute,
	}, stream, sink, discardLogger())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	f.sleep = func(context.Context, time.Duration) error { return nil }

	if err := f.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if len(sink.engaged) != 1 || len(sink.released) != 1 {
		t.Fatalf("engaged=%v released=%v", sink.engaged, sink.released)
	}
	if len(sink.ticks) != 1 {
		t.Fatalf("ticks = %+v, want only BTCUSDT", sink.ticks)
	}
	tick := sink.ticks[0]
	if tick.Source != domain.SourceBinance || !tick.Timestamp.Equal(now) || !tick.Price.Equal(decimal.NewFromInt(67100)) {
		t.Errorf("tick = %+v", tick)
	}
}

func TestBinanceFeedConnectResetsAttempts(t *testing.T) {
	sink := &fakeSink{}
	connectThenDrop := func(onConnected func(), _ func(binance.Ticker)) error {
		onConnected()
		return errors.New("reset by peer")
	}
	stream := &scriptedStream{steps: []func(func(), func(binance.Ticker)) error{
		failStep, failStep, connectThenDrop, failStep, failStep,
	}}
	f := NewBinanceFeed(BinanceFeedConfig{
		Symbols:              []string{"BTCUSDT"},
		MaxReconnectAttempts: 3,
		ReconnectBase:        time.Second,
	}, stream, sink, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delays []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	_ = f.Run(ctx)

	want := []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second, 4 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
	if len(sink.engaged) != 0 {
		t.Errorf("simulation engaged unexpectedly")
	}
}

type fakeQuotes struct {
	prices map[string]decimal.Decimal
	calls  []string
}

func (q *fakeQuotes) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	q.calls = append(q.calls, symbol)
	p, ok := q.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("symbol not found")
	}
	return p, nil
}

func TestQuotePollerPollOnce(t *testing.T) {
	src := &fakeQuotes{prices: map[string]decimal.Decimal{
		"EUR/USD": decimal.RequireFromString("1.0851"),
		"AAPL":    decimal.NewFromInt(191),
	}}
	sink := &fakeSink{}
	p := NewQuotePoller(src, sink, map[string]string{
		"eurusd": "EUR/USD",
		"AAPL":   "AAPL",
		"XAUUSD": "XAU/USD",
	}, "@every 1m", discardLogger())

	if n := p.PollOnce(context.Background()); n != 2 {
		t.Fatalf("PollOnce = %d, want 2", n)
	}
	wantCalls := []string{"AAPL", "EUR/USD", "XAU/USD"}
	for i, c := range wantCalls {
		if src.calls[i] != c {
			t.Fatalf("calls = %v, want %v", src.calls, wantCalls)
		}
	}
	for _, tick := range sink.ticks {
		if tick.Source != domain.SourceTwelveData {
			t.Errorf("source = %s", tick.Source)
		}
	}
	if sink.ticks[1].Symbol != "EURUSD" {
		t.Errorf("second tick symbol = %s, want EURUSD", sink.ticks[1].Symbol)
	}
}

func TestQuotePollerRejectsBadSchedule(t *testing.T) {
	p := NewQuotePoller(&fakeQuotes{}, &fakeSink{}, map[string]string{"AAPL": "AAPL"}, "every minute", discardLogger())
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}
