package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STARTRADERS_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides reads well-known STARTRADERS_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STARTRADERS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "STARTRADERS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STARTRADERS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STARTRADERS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STARTRADERS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STARTRADERS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STARTRADERS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STARTRADERS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STARTRADERS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STARTRADERS_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.SeedSymbols, "STARTRADERS_POSTGRES_SEED_SYMBOLS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STARTRADERS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STARTRADERS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STARTRADERS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STARTRADERS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STARTRADERS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STARTRADERS_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "STARTRADERS_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "STARTRADERS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STARTRADERS_S3_REGION")
	setStr(&cfg.S3.Bucket, "STARTRADERS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STARTRADERS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STARTRADERS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STARTRADERS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STARTRADERS_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.BinanceWSHost, "STARTRADERS_ORACLE_BINANCE_WS_HOST")
	setStringSlice(&cfg.Oracle.BinanceSymbols, "STARTRADERS_ORACLE_BINANCE_SYMBOLS")
	setInt(&cfg.Oracle.MaxReconnectAttempts, "STARTRADERS_ORACLE_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Oracle.ReconnectBase, "STARTRADERS_ORACLE_RECONNECT_BASE")
	setDuration(&cfg.Oracle.RecoveryInterval, "STARTRADERS_ORACLE_RECOVERY_INTERVAL")
	setStr(&cfg.Oracle.TwelveDataBaseURL, "STARTRADERS_ORACLE_TWELVEDATA_BASE_URL")
	setStr(&cfg.Oracle.TwelveDataAPIKey, "STARTRADERS_ORACLE_TWELVEDATA_API_KEY")
	setStr(&cfg.Oracle.TwelveDataAPIKey, "TWELVEDATA_API_KEY") // compatibility alias
	setInt(&cfg.Oracle.RequestsPerMinute, "STARTRADERS_ORACLE_REQUESTS_PER_MINUTE")
	setStr(&cfg.Oracle.PollCron, "STARTRADERS_ORACLE_POLL_CRON")
	setDuration(&cfg.Oracle.SimulationInterval, "STARTRADERS_ORACLE_SIMULATION_INTERVAL")
	setFloat64(&cfg.Oracle.VolatilityPercent, "STARTRADERS_ORACLE_VOLATILITY_PERCENT")
	setDuration(&cfg.Oracle.MaxTickAge, "STARTRADERS_ORACLE_MAX_TICK_AGE")
	setDuration(&cfg.Oracle.PreferenceWindow, "STARTRADERS_ORACLE_PREFERENCE_WINDOW")

	// ── Settlement ──
	setDuration(&cfg.Settlement.SweepInterval, "STARTRADERS_SETTLEMENT_SWEEP_INTERVAL")
	setInt(&cfg.Settlement.BatchSize, "STARTRADERS_SETTLEMENT_BATCH_SIZE")
	setInt(&cfg.Settlement.Workers, "STARTRADERS_SETTLEMENT_WORKERS")
	setStr(&cfg.Settlement.TieRule, "STARTRADERS_SETTLEMENT_TIE_RULE")
	setDuration(&cfg.Settlement.OverdueAfter, "STARTRADERS_SETTLEMENT_OVERDUE_AFTER")
	setDecimal(&cfg.Settlement.GlobalMinStake, "STARTRADERS_SETTLEMENT_GLOBAL_MIN_STAKE")
	setDecimal(&cfg.Settlement.GlobalMaxStake, "STARTRADERS_SETTLEMENT_GLOBAL_MAX_STAKE")
	setBool(&cfg.Settlement.UseLock, "STARTRADERS_SETTLEMENT_USE_LOCK")
	setDuration(&cfg.Settlement.LockTTL, "STARTRADERS_SETTLEMENT_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STARTRADERS_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "STARTRADERS_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "STARTRADERS_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STARTRADERS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STARTRADERS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STARTRADERS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "STARTRADERS_SERVER_ADMIN_API_KEY")
	setStr(&cfg.Server.JWTSecret, "STARTRADERS_SERVER_JWT_SECRET")
	setStr(&cfg.Server.JWTSecret, "JWT_SECRET") // compatibility alias
	setInt(&cfg.Server.RateLimit, "STARTRADERS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "STARTRADERS_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STARTRADERS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STARTRADERS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STARTRADERS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STARTRADERS_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "STARTRADERS_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "STARTRADERS_MODE")
	setStr(&cfg.LogLevel, "STARTRADERS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
