package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// QuoteSource returns the latest price for an upstream symbol.
// *twelvedata.Client satisfies it.
type QuoteSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// QuotePoller polls a REST quote source on a cron schedule.
type QuotePoller struct {
	src      QuoteSource
	sink     TickSink
	tickers  []string          // sorted
	upstream map[string]string // ticker -> upstream symbol
	schedule string
	logger   *slog.Logger
	now      func() time.Time
}

// NewQuotePoller creates a poller. symbols maps our ticker to the upstream
// symbol, e.g. "EURUSD" -> "EUR/USD".
func NewQuotePoller(src QuoteSource, sink TickSink, symbols map[string]string, schedule string, logger *slog.Logger) *QuotePoller {
	up := make(map[string]string, len(symbols))
	tickers := make([]string, 0, len(symbols))
	for k, v := range symbols {
		k = strings.ToUpper(k)
		up[k] = v
		tickers = append(tickers, k)
	}
	sort.Strings(tickers)
	return &QuotePoller{
		src:      src,
		sink:     sink,
		tickers:  tickers,
		upstream: up,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "quote_poller")),
		now:      time.Now,
	}
}

// PollOnce fetches every symbol sequentially and returns how many ticks were
// pushed. Per-symbol failures are logged and skipped.
func (p *QuotePoller) PollOnce(ctx context.Context) int {
	ok := 0
	for _, ticker := range p.tickers {
		if ctx.Err() != nil {
			break
		}
		price, err := p.src.Price(ctx, p.upstream[ticker])
		if err != nil {
			p.logger.WarnContext(ctx, "quote poll failed",
				slog.String("symbol", ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.sink.Update(domain.PriceTick{
			Symbol:    ticker,
			Price:     price,
			Change24h: decimal.Zero,
			Timestamp: p.now(),
			Source:    domain.SourceTwelveData,
		})
		ok++
	}
	return ok
}

// Run polls once immediately, then on schedule until ctx is cancelled. A
// poll still running when the next one is due causes that one to be skipped.
func (p *QuotePoller) Run(ctx context.Context) error {
	if len(p.tickers) == 0 {
		p.logger.Info("no quote symbols configured, exiting")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(p.schedule, func() {
		n := p.PollOnce(ctx)
		p.logger.Debug("quote poll complete", slog.Int("ok", n), slog.Int("symbols", len(p.tickers)))
	}); err != nil {
		return fmt.Errorf("feed: quote poller schedule %q: %w", p.schedule, err)
	}

	p.PollOnce(ctx)
	c.Start()
	p.logger.Info("quote poller started",
		slog.String("schedule", p.schedule),
		slog.Int("symbols", len(p.tickers)),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
