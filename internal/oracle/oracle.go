// Package oracle keeps the latest price tick per symbol and fans accepted
// ticks out to subscribers. Upstream feeds push into it; the settlement
// engine reads from it without blocking on I/O.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// Config tunes freshness, source preference and the fallback simulation.
type Config struct {
	// MaxTickAge is the freshness limit for placements.
	MaxTickAge time.Duration
	// SourceMaxAge overrides MaxTickAge per source.
	SourceMaxAge map[domain.PriceSource]time.Duration
	// PreferenceWindow lets a lower-ranked source replace a tick older than this.
	PreferenceWindow   time.Duration
	SimulationInterval time.Duration
	// VolatilityPercent bounds each simulated tick around its base.
	VolatilityPercent float64
	FallbackPrices    map[string]decimal.Decimal
}

// Oracle is safe for concurrent use.
type Oracle struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	ticks map[string]domain.PriceTick

	subMu  sync.RWMutex
	subs   map[int]func(domain.PriceTick)
	nextID int

	simMu    sync.Mutex
	simBase  map[string]decimal.Decimal // engaged symbols -> walk centre
	rng      *rand.Rand
	seedOnce sync.Once
}

// Option customises an Oracle.
type Option func(*Oracle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithRand sets the random source used by the simulation.
func WithRand(r *rand.Rand) Option {
	return func(o *Oracle) { o.rng = r }
}

// New returns an Oracle with no ticks. Call Seed or Start before serving.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Oracle {
	if cfg.MaxTickAge <= 0 {
		cfg.MaxTickAge = 10 * time.Second
	}
	if cfg.SimulationInterval <= 0 {
		cfg.SimulationInterval = 3 * time.Second
	}
	o := &Oracle{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "oracle")),
		now:     time.Now,
		ticks:   make(map[string]domain.PriceTick),
		subs:    make(map[int]func(domain.PriceTick)),
		simBase: make(map[string]decimal.Decimal),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Seed installs the static fallback table. Only the first call has effect.
func (o *Oracle) Seed() {
	o.seedOnce.Do(func() {
		now := o.now()
		for sym, price := range o.cfg.FallbackPrices {
			o.Update(domain.PriceTick{
				Symbol:    strings.ToUpper(sym),
				Price:     price,
				Change24h: decimal.Zero,
				Timestamp: now,
				Source:    domain.SourceFallback,
			})
		}
		o.logger.Info("fallback prices seeded", slog.Int("symbols", len(o.cfg.FallbackPrices)))
	})
}

// Start seeds the fallback table synchronously, then runs the simulation
// loop until ctx is cancelled.
func (o *Oracle) Start(ctx context.Context) error {
	o.Seed()

	ticker := time.NewTicker(o.cfg.SimulationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.SimulateOnce()
		}
	}
}

// Update offers a tick to the cache. It returns true when the tick was
// accepted and broadcast.
func (o *Oracle) Update(tick domain.PriceTick) bool {
	tick.Symbol = strings.ToUpper(tick.Symbol)
	if tick.Timestamp.IsZero() {
		tick.Timestamp = o.now()
	}

	o.mu.Lock()
	cur, ok := o.ticks[tick.Symbol]
	if ok && !o.prefers(tick, cur) {
		o.mu.Unlock()
		return false
	}
	o.ticks[tick.Symbol] = tick
	o.mu.Unlock()

	o.broadcast(tick.Symbol)
	return true
}

// prefers reports whether incoming should replace cur.
func (o *Oracle) prefers(incoming, cur domain.PriceTick) bool {
	if incoming.Source.Rank() <= cur.Source.Rank() {
		return true
	}
	return o.cfg.PreferenceWindow > 0 && o.now().Sub(cur.Timestamp) > o.cfg.PreferenceWindow
}

// GetPrice returns the latest tick for symbol, fresh or not.
func (o *Oracle) GetPrice(symbol string) (domain.PriceTick, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.ticks[strings.ToUpper(symbol)]
	return t, ok
}

// FreshPrice returns the latest tick if it is within its source's age limit,
// else domain.ErrPriceUnavailable.
func (o *Oracle) FreshPrice(symbol string) (domain.PriceTick, error) {
	t, ok := o.GetPrice(symbol)
	if !ok {
		return domain.PriceTick{}, fmt.Errorf("oracle: %s: no tick: %w", symbol, domain.ErrPriceUnavailable)
	}
	if age := t.Age(o.now()); age > o.maxAge(t.Source) {
		return domain.PriceTick{}, fmt.Errorf("oracle: %s: tick from %s is %s old: %w",
			symbol, t.Source, age.Round(time.Millisecond), domain.ErrPriceUnavailable)
	}
	return t, nil
}

func (o *Oracle) maxAge(src domain.PriceSource) time.Duration {
	if d, ok := o.cfg.SourceMaxAge[src]; ok && d > 0 {
		return d
	}
	return o.cfg.MaxTickAge
}

// GetAll returns a copy of every cached tick.
func (o *Oracle) GetAll() map[string]domain.PriceTick {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]domain.PriceTick, len(o.ticks))
	for k, v := range o.ticks {
		out[k] = v
	}
	return out
}

// Subscribe registers fn for every accepted tick. Current ticks are replayed
// to fn before Subscribe returns. The returned func removes the subscription.
func (o *Oracle) Subscribe(fn func(domain.PriceTick)) (unsubscribe func()) {
	o.subMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.subMu.Unlock()

	snapshot := o.GetAll()
	symbols := make([]string, 0, len(snapshot))
	for s := range snapshot {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		o.deliver(id, fn, snapshot[s])
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
		})
	}
}

// broadcast pushes the cached tick of symbol to all subscribers. Calling it
// for a symbol with no tick is a programming error.
func (o *Oracle) broadcast(symbol string) {
	tick, ok := o.GetPrice(symbol)
	if !ok {
		panic("oracle: broadcast of unknown symbol " + symbol)
	}

	o.subMu.RLock()
	subs := make(map[int]func(domain.PriceTick), len(o.subs))
	for id, fn := range o.subs {
		subs[id] = fn
	}
	o.subMu.RUnlock()

	for id, fn := range subs {
		o.deliver(id, fn, tick)
	}
}

// deliver isolates subscribers from each other's panics.
func (o *Oracle) deliver(id int, fn func(domain.PriceTick), tick domain.PriceTick) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("subscriber panicked",
				slog.Int("subscriber", id),
				slog.String("symbol", tick.Symbol),
				slog.Any("panic", r),
			)
		}
	}()
	fn(tick)
}

// EngageSimulation starts synthetic ticks for symbols, centred on their last
// known price or fallback seed.
func (o *Oracle) EngageSimulation(symbols ...string) {
	o.simMu.Lock()
	defer o.simMu.Unlock()

	for _, s := range symbols {
		s = strings.ToUpper(s)
		if _, ok := o.simBase[s]; ok {
			continue
		}
		base, ok := o.cfg.FallbackPrices[s]
		if t, have := o.GetPrice(s); have {
			base, ok = t.Price, true
		}
		if !ok || !base.IsPositive() {
			o.logger.Warn("no base price for simulation", slog.String("symbol", s))
			continue
		}
		o.simBase[s] = base
		o.logger.Warn("fallback simulation engaged",
			slog.String("symbol", s),
			slog.String("base", base.String()),
		)
	}
}

// ReleaseSimulation stops synthetic ticks for symbols.
func (o *Oracle) ReleaseSimulation(symbols ...string) {
	o.simMu.Lock()
	defer o.simMu.Unlock()
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if _, ok := o.simBase[s]; ok {
			delete(o.simBase, s)
			o.logger.Info("fallback simulation released", slog.String("symbol", s))
		}
	}
}

// Simulating returns the symbols currently fed by the simulation, sorted.
func (o *Oracle) Simulating() []string {
	o.simMu.Lock()
	defer o.simMu.Unlock()
	out := make([]string, 0, len(o.simBase))
	for s := range o.simBase {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SimulateOnce emits one synthetic tick per engaged symbol. Each price stays
// within VolatilityPercent of the symbol's base.
func (o *Oracle) SimulateOnce() {
	o.simMu.Lock()
	type step struct {
		symbol string
		price  decimal.Decimal
		change decimal.Decimal
	}
	steps := make([]step, 0, len(o.simBase))
	hundred := decimal.NewFromInt(100)
	for s, base := range o.simBase {
		// u in [-1, 1)
		u := o.rng.Float64()*2 - 1
		pct := decimal.NewFromFloat(u * o.cfg.VolatilityPercent)
		price := base.Add(base.Mul(pct).Div(hundred)).Round(8)
		steps = append(steps, step{symbol: s, price: price, change: pct.Round(4)})
	}
	o.simMu.Unlock()

	now := o.now()
	for _, st := range steps {
		o.Update(domain.PriceTick{
			Symbol:    st.symbol,
			Price:     st.price,
			Change24h: st.change,
			Timestamp: now,
			Source:    domain.SourceFallbackSimulation,
		})
	}
}
