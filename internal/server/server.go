// Package server exposes the trading API over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/server/handler"
	"github.com/alanyoungcy/startraders/internal/server/middleware"
	"github.com/alanyoungcy/startraders/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards /admin routes. Empty disables the check.
	AdminAPIKey string
	JWTSecret   string
	// RateLimit is requests per RateWindow per caller on trade placement.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Trading *handler.TradingHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging and CORS.
// limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "http"))}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	user := middleware.JWT(cfg.JWTSecret)
	limited := func(h http.HandlerFunc) http.Handler {
		return user(middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h))
	}
	admin := middleware.AdminKey(cfg.AdminAPIKey)

	// Public.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /trading/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /trading/markets/popular", handlers.Markets.PopularMarkets)

	// Authenticated traders.
	mux.Handle("POST /trading/trade", limited(handlers.Trading.PlaceTrade))
	mux.Handle("GET /trading/trades/active", user(http.HandlerFunc(handlers.Trading.ActiveTrades)))
	mux.Handle("GET /trading/trades/history", user(http.HandlerFunc(handlers.Trading.TradeHistory)))
	mux.Handle("GET /trading/stats", user(http.HandlerFunc(handlers.Trading.Stats)))

	// Operators.
	if handlers.Admin != nil {
		mux.Handle("POST /admin/trades/{id}/cancel", admin(http.HandlerFunc(handlers.Admin.CancelTrade)))
		mux.Handle("GET /admin/quarantine", admin(http.HandlerFunc(handlers.Admin.ListQuarantined)))
		mux.Handle("POST /admin/quarantine/{id}/release", admin(http.HandlerFunc(handlers.Admin.ReleaseQuarantined)))
		mux.Handle("POST /admin/archive", admin(http.HandlerFunc(handlers.Admin.TriggerArchive)))
		mux.Handle("GET /admin/audit", admin(http.HandlerFunc(handlers.Admin.ListAudit)))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger.With(slog.String("component", "http")))(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
