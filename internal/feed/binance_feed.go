// Package feed drives the upstream price sources into the oracle.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/platform/binance"
)

// TickSink accepts ticks. *oracle.Oracle satisfies it.
type TickSink interface {
	Update(tick domain.PriceTick) bool
}

// SimulationSink is a TickSink that can also substitute synthetic ticks.
type SimulationSink interface {
	TickSink
	EngageSimulation(symbols ...string)
	ReleaseSimulation(symbols ...string)
}

// TickerStream is one streaming connection attempt. *binance.WSClient satisfies it.
type TickerStream interface {
	Stream(ctx context.Context, onConnected func(), onTicker func(binance.Ticker), onBad func(error)) error
}

// BinanceFeedConfig controls reconnect behaviour.
type BinanceFeedConfig struct {
	Symbols []string
	// MaxReconnectAttempts is the number of retries after a failure before
	// simulation is engaged.
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	// RecoveryInterval spaces probes while simulation is engaged. Zero stops
	// probing after fallback.
	RecoveryInterval time.Duration
}

// BinanceFeed keeps a Binance ticker stream connected and pushes ticks into
// the sink. When reconnects are exhausted it hands its symbols to the
// oracle's fallback simulation until the stream recovers.
type BinanceFeed struct {
	cfg     BinanceFeedConfig
	stream  TickerStream
	sink    SimulationSink
	symbols map[string]bool
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	onFallback func(symbols []string)
	simulating bool
}

// NewBinanceFeed creates a feed for the configured symbols.
func NewBinanceFeed(cfg BinanceFeedConfig, stream TickerStream, sink SimulationSink, logger *slog.Logger) *BinanceFeed {
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 3
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 5 * time.Second
	}
	syms := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		syms[strings.ToUpper(s)] = true
	}
	return &BinanceFeed{
		cfg:     cfg,
		stream:  stream,
		sink:    sink,
		symbols: syms,
		logger:  logger.With(slog.String("component", "binance_feed")),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// OnFallback registers fn to run each time the feed engages simulation.
func (f *BinanceFeed) OnFallback(fn func(symbols []string)) {
	f.onFallback = fn
}

// Run connects and reconnects until ctx is cancelled.
func (f *BinanceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no binance symbols configured, exiting")
		return nil
	}

	failures := 0
	for {
		err := f.stream.Stream(ctx,
			func() {
				failures = 0
				f.connected()
			},
			f.handleTicker,
			func(err error) {
				f.logger.Debug("skipping malformed ticker", slog.String("error", err.Error()))
			},
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures++

		delay, exhausted := f.backoff(failures)
		if exhausted {
			f.fallback()
			if delay <= 0 {
				f.logger.Warn("binance recovery probing disabled, staying on simulation")
				<-ctx.Done()
				return ctx.Err()
			}
		}
		f.logger.Warn("binance stream disconnected",
			slog.String("error", errString(err)),
			slog.Int("failures", failures),
			slog.Duration("retry_in", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoff returns the wait before the next attempt after the given number of
// consecutive failures. Past MaxReconnectAttempts it returns RecoveryInterval
// and exhausted=true.
func (f *BinanceFeed) backoff(failures int) (time.Duration, bool) {
	if failures > f.cfg.MaxReconnectAttempts {
		return f.cfg.RecoveryInterval, true
	}
	return f.cfg.ReconnectBase << (failures - 1), false
}

func (f *BinanceFeed) connected() {
	f.logger.Info("binance stream connected", slog.Int("symbols", len(f.symbols)))
	if f.simulating {
		f.sink.ReleaseSimulation(f.symbolList()...)
		f.simulating = false
	}
}

func (f *BinanceFeed) fallback() {
	if f.simulating {
		return
	}
	syms := f.symbolList()
	f.sink.EngageSimulation(syms...)
	f.simulating = true
	f.logger.Error("binance reconnects exhausted, fallback simulation engaged",
		slog.Int("attempts", f.cfg.MaxReconnectAttempts),
		slog.Any("symbols", syms),
	)
	if f.onFallback != nil {
		f.onFallback(syms)
	}
}

func (f *BinanceFeed) handleTicker(t binance.Ticker) {
	if !f.symbols[t.Symbol] {
		return
	}
	f.sink.Update(domain.PriceTick{
		Symbol:    t.Symbol,
		Price:     t.Close,
		Change24h: t.ChangePct,
		Timestamp: f.now(),
		Source:    domain.SourceBinance,
	})
}

func (f *BinanceFeed) symbolList() []string {
	out := make([]string, 0, len(f.symbols))
	for _, s := range f.cfg.Symbols {
		out = append(out, strings.ToUpper(s))
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
