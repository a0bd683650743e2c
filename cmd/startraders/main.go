// Command startraders is the settlement backend entry point. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/startraders/internal/app"
	"github.com/alanyoungcy/startraders/internal/config"
	"github.com/alanyoungcy/startraders/internal/server/handler"
	"github.com/alanyoungcy/startraders/internal/server/middleware"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	issueFor := flag.String("issue-token", "", "print a JWT for the given user ID and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *issueFor != "" {
		if cfg.Server.JWTSecret == "" {
			fmt.Fprintln(os.Stderr, "server.jwt_secret is not set")
			os.Exit(1)
		}
		tok, err := middleware.IssueToken(cfg.Server.JWTSecret, *issueFor, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("startraders starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", redacted),
	)

	handler.UseNumericDecimals()
	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("startraders stopped")
}
