package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/engine"
	"github.com/alanyoungcy/startraders/internal/feed"
	"github.com/alanyoungcy/startraders/internal/notify"
	"github.com/alanyoungcy/startraders/internal/oracle"
	"github.com/alanyoungcy/startraders/internal/pipeline"
	"github.com/alanyoungcy/startraders/internal/platform/binance"
	"github.com/alanyoungcy/startraders/internal/platform/twelvedata"
	"github.com/alanyoungcy/startraders/internal/server"
	"github.com/alanyoungcy/startraders/internal/server/handler"
	"github.com/alanyoungcy/startraders/internal/server/middleware"
	"github.com/alanyoungcy/startraders/internal/server/ws"
	"github.com/alanyoungcy/startraders/internal/service"
)

const shutdownTimeout = 10 * time.Second

// components are the long-lived parts shared by every mode.
type components struct {
	oracle  *oracle.Oracle
	engine  *engine.Engine
	sweeper *engine.Sweeper
	archive *pipeline.Archiver // nil unless archiving is enabled
}

// ServerMode runs feeds, settlement and the HTTP API against Postgres and Redis.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "server mode: feeds, settlement and API")
	return a.run(ctx, deps, a.cfg.Server.Enabled)
}

// SettlerMode runs feeds and settlement only. Several settlers may share a
// database when settlement.use_lock is set.
func (a *App) SettlerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "settler mode: feeds and settlement, no API")
	return a.run(ctx, deps, false)
}

// PaperMode runs the full stack on in-memory stores.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "paper mode: in-memory stores, no external services")
	return a.run(ctx, deps, a.cfg.Server.Enabled)
}

func (a *App) run(ctx context.Context, deps *Dependencies, serveHTTP bool) error {
	g, ctx := errgroup.WithContext(ctx)

	rt := a.build(deps)
	// First requests must see the fallback table.
	rt.oracle.Seed()
	g.Go(func() error { return rt.oracle.Start(ctx) })

	a.startFeeds(ctx, g, deps, rt.oracle)

	prices := service.NewPriceService(rt.oracle, deps.PriceCache, deps.Bus, 0, a.logger)
	g.Go(func() error { return prices.Run(ctx) })

	g.Go(func() error { return rt.sweeper.Run(ctx) })

	if rt.archive != nil {
		g.Go(func() error { return rt.archive.RunCron(ctx, a.cfg.Archive.Cron) })
	}

	if serveHTTP {
		a.startHTTPServer(ctx, g, deps, rt)
	}

	return g.Wait()
}

func (a *App) build(deps *Dependencies) components {
	oc := a.cfg.Oracle
	sourceAge := make(map[domain.PriceSource]time.Duration, len(oc.SourceMaxAge))
	for src := range oc.SourceMaxAge {
		sourceAge[domain.PriceSource(src)] = oc.MaxAgeFor(src)
	}
	orc := oracle.New(oracle.Config{
		MaxTickAge:         oc.MaxTickAge.Duration,
		SourceMaxAge:       sourceAge,
		PreferenceWindow:   oc.PreferenceWindow.Duration,
		SimulationInterval: oc.SimulationInterval.Duration,
		VolatilityPercent:  oc.VolatilityPercent,
		FallbackPrices:     oc.FallbackPrices,
	}, a.logger)

	sc := a.cfg.Settlement
	eng := engine.New(engine.Config{
		GlobalMinStake: sc.GlobalMinStake,
		GlobalMaxStake: sc.GlobalMaxStake,
		TieRefunds:     sc.TieRefunds(),
		BatchSize:      sc.BatchSize,
		Workers:        sc.Workers,
	}, engine.Deps{
		Symbols: deps.Symbols,
		Wallet:  deps.Wallet,
		Trades:  deps.Trades,
		Tx:      deps.Tx,
		Oracle:  orc,
		Audit:   deps.Audit,
		Bus:     deps.Bus,
		Alerter: deps.Notifier,
	}, a.logger)

	sweeper := engine.NewSweeper(eng, deps.Locks, engine.SweeperConfig{
		Interval:     sc.SweepInterval.Duration,
		OverdueAfter: sc.OverdueAfter.Duration,
		LockTTL:      sc.LockTTL.Duration,
	}, a.logger)

	rt := components{oracle: orc, engine: eng, sweeper: sweeper}
	if deps.Archiver != nil {
		rt.archive = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	return rt
}

// startFeeds connects the Binance stream and the TwelveData poller. Without
// a TwelveData key its symbols run on the fallback simulation from the start.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, orc *oracle.Oracle) {
	oc := a.cfg.Oracle

	if len(oc.BinanceSymbols) > 0 {
		bf := feed.NewBinanceFeed(feed.BinanceFeedConfig{
			Symbols:              oc.BinanceSymbols,
			MaxReconnectAttempts: oc.MaxReconnectAttempts,
			ReconnectBase:        oc.ReconnectBase.Duration,
			RecoveryInterval:     oc.RecoveryInterval.Duration,
		}, binance.NewWSClient(oc.BinanceWSHost, oc.BinanceSymbols), orc, a.logger)
		bf.OnFallback(func(symbols []string) {
			msg := fmt.Sprintf("Binance stream unavailable; simulating %s", strings.Join(symbols, ", "))
			if err := deps.Notifier.Notify(ctx, notify.EventFeedFallback, "Price feed fallback", msg); err != nil {
				a.logger.WarnContext(ctx, "feed fallback alert failed", slog.String("error", err.Error()))
			}
		})
		g.Go(func() error { return bf.Run(ctx) })
	}

	if len(oc.TwelveDataSymbols) == 0 {
		return
	}
	if oc.TwelveDataAPIKey == "" {
		tickers := slices.Sorted(maps.Keys(oc.TwelveDataSymbols))
		a.logger.WarnContext(ctx, "no twelvedata api key, simulating quotes",
			slog.String("symbols", strings.Join(tickers, ",")),
		)
		orc.EngageSimulation(tickers...)
		return
	}
	client := twelvedata.NewClient(oc.TwelveDataBaseURL, oc.TwelveDataAPIKey, oc.RequestsPerMinute)
	poller := feed.NewQuotePoller(client, orc, oc.TwelveDataSymbols, oc.PollCron, a.logger)
	g.Go(func() error { return poller.Run(ctx) })
}

// startHTTPServer registers the API handlers and the WebSocket hub and
// serves them until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt components) {
	sc := a.cfg.Server
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
		Verify: func(token string) (string, error) {
			return middleware.ParseToken(token, sc.JWTSecret)
		},
		AllowedOrigins: sc.CORSOrigins,
	})
	g.Go(func() error { return hub.Run(ctx) })

	var archive handler.ArchiveRunner
	if rt.archive != nil {
		archive = rt.archive
	}
	markets := service.NewMarketService(deps.Symbols, rt.oracle, deps.PriceCache, a.logger)

	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		AdminAPIKey: sc.AdminAPIKey,
		JWTSecret:   sc.JWTSecret,
		RateLimit:   sc.RateLimit,
		RateWindow:  sc.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, startedAt, rt.sweeper, rt.oracle),
		Markets: handler.NewMarketHandler(markets, a.logger),
		Trading: handler.NewTradingHandler(rt.engine, a.logger),
		Admin:   handler.NewAdminHandler(rt.engine, archive, deps.Audit, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	if sc.AdminAPIKey == "" {
		a.logger.WarnContext(ctx, "server.admin_api_key is empty; admin routes are unauthenticated")
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
