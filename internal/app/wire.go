package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/startraders/internal/blob/s3"
	"github.com/alanyoungcy/startraders/internal/cache/redis"
	"github.com/alanyoungcy/startraders/internal/config"
	"github.com/alanyoungcy/startraders/internal/domain"
	"github.com/alanyoungcy/startraders/internal/notify"
	"github.com/alanyoungcy/startraders/internal/server/handler"
	"github.com/alanyoungcy/startraders/internal/store/memory"
	"github.com/alanyoungcy/startraders/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Symbols domain.SymbolRegistry
	Wallet  domain.WalletLedger
	Trades  domain.TradeStore
	Audit   domain.AuditStore
	Tx      domain.Transactor

	// Caches. Nil in paper mode.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Checks feed the health endpoint, keyed by dependency name.
	Checks map[string]handler.HealthCheck
}

// archiveStore is the trade store surface the blob archiver needs.
type archiveStore interface {
	domain.TradeStore
	s3blob.TradeArchiveStore
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}
	var trades archiveStore

	if cfg.Mode == "paper" {
		trades = wireMemory(ctx, cfg, deps, logger)
	} else {
		pgTrades, pgClose, err := wirePostgres(ctx, cfg, deps, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pgClose)
		trades = pgTrades

		redisClose, err := wireRedis(ctx, cfg, deps)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, redisClose)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3Client, trades, deps.Audit, cfg.Archive.Prune)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithCooldown(cfg.Notify.Cooldown.Duration))
	if !deps.Notifier.Enabled() {
		logger.InfoContext(ctx, "no notification senders configured")
	}

	return deps, cleanup, nil
}

// wireMemory installs the in-memory stores and bus used by paper mode.
func wireMemory(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) archiveStore {
	store := memory.New()
	for _, sym := range domain.DefaultSymbols() {
		_ = store.Symbols().Upsert(ctx, sym)
	}
	for user, balance := range cfg.Paper.Wallets {
		store.SetBalance(user, balance)
	}
	logger.InfoContext(ctx, "paper stores ready", slog.Int("wallets", len(cfg.Paper.Wallets)))

	deps.Symbols = store.Symbols()
	deps.Wallet = store.Wallet()
	deps.Trades = store.Trades()
	deps.Audit = store.Audit()
	deps.Tx = store
	deps.Bus = memory.NewBus()
	return store.Trades()
}

func wirePostgres(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*postgres.TradeStore, func(), error) {
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			pgClient.Close()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	symbols := postgres.NewSymbolStore(pool)
	wallet := postgres.NewWalletStore(pool)
	trades := postgres.NewTradeStore(pool)

	if cfg.Postgres.SeedSymbols {
		n, err := seedSymbols(ctx, symbols)
		if err != nil {
			pgClient.Close()
			return nil, nil, fmt.Errorf("wire: seed symbols: %w", err)
		}
		if n > 0 {
			logger.InfoContext(ctx, "symbols seeded", slog.Int("inserted", n))
		}
	}
	// Opening balances for demo accounts; existing users keep theirs.
	for user, balance := range cfg.Paper.Wallets {
		if err := wallet.EnsureUser(ctx, user, balance); err != nil {
			pgClient.Close()
			return nil, nil, fmt.Errorf("wire: ensure user %s: %w", user, err)
		}
	}

	deps.Symbols = symbols
	deps.Wallet = wallet
	deps.Trades = trades
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Tx = pgClient
	deps.Checks["postgres"] = pgClient.Ping
	return trades, pgClient.Close, nil
}

// seedSymbols inserts default symbols that are missing. Operator edits to
// existing rows are left alone.
func seedSymbols(ctx context.Context, reg domain.SymbolRegistry) (int, error) {
	inserted := 0
	for _, sym := range domain.DefaultSymbols() {
		_, err := reg.Get(ctx, sym.Ticker)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return inserted, err
		}
		if err := reg.Upsert(ctx, sym); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func wireRedis(ctx context.Context, cfg *config.Config, deps *Dependencies) (func(), error) {
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: redis: %w", err)
	}

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)
	if cfg.Settlement.UseLock {
		deps.Locks = redis.NewLockManager(redisClient)
	}
	deps.Checks["redis"] = redisClient.Ping
	return func() { _ = redisClient.Close() }, nil
}
