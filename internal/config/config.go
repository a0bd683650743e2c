// Package config defines the top-level configuration for the startraders
// backend and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STARTRADERS_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Oracle     OracleConfig     `toml:"oracle"`
	Settlement SettlementConfig `toml:"settlement"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Paper      PaperConfig      `toml:"paper"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	SeedSymbols   bool   `toml:"seed_symbols"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// KeyPrefix namespaces keys and channels; empty selects "startraders:".
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig drives the price oracle and its upstream feeds.
type OracleConfig struct {
	BinanceWSHost        string   `toml:"binance_ws_host"`
	BinanceSymbols       []string `toml:"binance_symbols"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectBase        duration `toml:"reconnect_base"`
	RecoveryInterval     duration `toml:"recovery_interval"`

	TwelveDataBaseURL string            `toml:"twelvedata_base_url"`
	TwelveDataAPIKey  string            `toml:"twelvedata_api_key"`
	TwelveDataSymbols map[string]string `toml:"twelvedata_symbols"` // ticker -> upstream, e.g. EURUSD = "EUR/USD"
	RequestsPerMinute int               `toml:"requests_per_minute"`
	PollCron          string            `toml:"poll_cron"`

	SimulationInterval duration `toml:"simulation_interval"`
	VolatilityPercent  float64  `toml:"volatility_percent"`
	MaxTickAge         duration `toml:"max_tick_age"`
	// SourceMaxAge overrides MaxTickAge per source tag.
	SourceMaxAge     map[string]duration        `toml:"source_max_age"`
	PreferenceWindow duration                   `toml:"preference_window"`
	FallbackPrices   map[string]decimal.Decimal `toml:"fallback_prices"`
}

// SettlementConfig drives placement limits and the resolution sweeper.
type SettlementConfig struct {
	SweepInterval  duration        `toml:"sweep_interval"`
	BatchSize      int             `toml:"batch_size"`
	Workers        int             `toml:"workers"`
	TieRule        string          `toml:"tie_rule"` // loss | refund
	OverdueAfter   duration        `toml:"overdue_after"`
	GlobalMinStake decimal.Decimal `toml:"global_min_stake"`
	GlobalMaxStake decimal.Decimal `toml:"global_max_stake"`
	UseLock        bool            `toml:"use_lock"`
	LockTTL        duration        `toml:"lock_ttl"`
}

// ArchiveConfig controls moving resolved trades to object storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	// Prune deletes archived trades from Postgres after upload.
	Prune bool `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards /admin routes. Empty disables admin auth.
	AdminAPIKey string `toml:"admin_api_key"`
	JWTSecret   string `toml:"jwt_secret"`
	// RateLimit is requests per RateWindow per client on trading routes. 0 disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Cooldown drops repeats of an identical alert within this window.
	Cooldown duration `toml:"cooldown"`
}

// PaperConfig seeds the in-memory stores used by paper mode.
type PaperConfig struct {
	Wallets map[string]decimal.Decimal `toml:"wallets"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "startraders",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			SeedSymbols:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "startraders-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			BinanceWSHost:        "wss://stream.binance.com:443",
			BinanceSymbols:       []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT"},
			MaxReconnectAttempts: 3,
			ReconnectBase:        duration{5 * time.Second},
			RecoveryInterval:     duration{5 * time.Minute},
			TwelveDataBaseURL:    "https://api.twelvedata.com",
			TwelveDataSymbols: map[string]string{
				"EURUSD": "EUR/USD",
				"GBPUSD": "GBP/USD",
				"XAUUSD": "XAU/USD",
				"AAPL":   "AAPL",
				"TSLA":   "TSLA",
			},
			RequestsPerMinute:  8,
			PollCron:           "@every 1m",
			SimulationInterval: duration{3 * time.Second},
			VolatilityPercent:  1.0,
			MaxTickAge:         duration{10 * time.Second},
			SourceMaxAge: map[string]duration{
				"twelvedata": {90 * time.Second},
			},
			PreferenceWindow: duration{15 * time.Second},
			FallbackPrices: map[string]decimal.Decimal{
				"BTCUSDT": decimal.NewFromInt(67000),
				"ETHUSDT": decimal.NewFromInt(2600),
				"BNBUSDT": decimal.NewFromInt(590),
				"ADAUSDT": decimal.RequireFromString("0.45"),
				"EURUSD":  decimal.RequireFromString("1.085"),
				"GBPUSD":  decimal.RequireFromString("1.27"),
				"XAUUSD":  decimal.NewFromInt(2350),
				"AAPL":    decimal.NewFromInt(190),
				"TSLA":    decimal.NewFromInt(245),
			},
		},
		Settlement: SettlementConfig{
			SweepInterval:  duration{2 * time.Second},
			BatchSize:      200,
			Workers:        8,
			TieRule:        "loss",
			OverdueAfter:   duration{30 * time.Second},
			GlobalMinStake: decimal.NewFromInt(1),
			GlobalMaxStake: decimal.NewFromInt(10000),
			LockTTL:        duration{10 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"reconciliation_required", "settlement_delayed", "feed_fallback"},
			Cooldown: duration{5 * time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"settler": true,
	"paper":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTieRules = map[string]bool{
	"loss":   true,
	"refund": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, settler, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Paper mode keeps everything in memory.
	external := c.Mode != "paper"

	if external {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Oracle
	if c.Oracle.MaxReconnectAttempts < 1 {
		errs = append(errs, "oracle: max_reconnect_attempts must be >= 1")
	}
	if c.Oracle.ReconnectBase.Duration <= 0 {
		errs = append(errs, "oracle: reconnect_base must be > 0")
	}
	if c.Oracle.SimulationInterval.Duration <= 0 {
		errs = append(errs, "oracle: simulation_interval must be > 0")
	}
	if c.Oracle.MaxTickAge.Duration <= 0 {
		errs = append(errs, "oracle: max_tick_age must be > 0")
	}
	if c.Oracle.VolatilityPercent < 0 || c.Oracle.VolatilityPercent > 10 {
		errs = append(errs, "oracle: volatility_percent must be within 0-10")
	}
	if len(c.Oracle.TwelveDataSymbols) > 0 && c.Oracle.RequestsPerMinute < 1 {
		errs = append(errs, "oracle: requests_per_minute must be >= 1")
	}
	if len(c.Oracle.TwelveDataSymbols) > 0 {
		if _, err := cron.ParseStandard(c.Oracle.PollCron); err != nil {
			errs = append(errs, fmt.Sprintf("oracle: invalid poll_cron %q: %v", c.Oracle.PollCron, err))
		}
	}

	// Settlement
	if c.Settlement.SweepInterval.Duration <= 0 {
		errs = append(errs, "settlement: sweep_interval must be > 0")
	}
	if c.Settlement.BatchSize < 1 {
		errs = append(errs, "settlement: batch_size must be >= 1")
	}
	if c.Settlement.Workers < 1 {
		errs = append(errs, "settlement: workers must be >= 1")
	}
	if !validTieRules[strings.ToLower(c.Settlement.TieRule)] {
		errs = append(errs, fmt.Sprintf("settlement: unknown tie_rule %q (valid: loss, refund)", c.Settlement.TieRule))
	}
	if !c.Settlement.GlobalMinStake.IsPositive() {
		errs = append(errs, "settlement: global_min_stake must be > 0")
	}
	if c.Settlement.GlobalMaxStake.LessThan(c.Settlement.GlobalMinStake) {
		errs = append(errs, "settlement: global_max_stake must not be below global_min_stake")
	}
	if c.Settlement.UseLock && c.Settlement.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0 when use_lock is set")
	}

	// Server
	if c.Server.Enabled && c.Mode != "settler" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.JWTSecret == "" {
			errs = append(errs, "server: jwt_secret must be set")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TieRefunds reports whether equal entry and exit prices refund the stake.
func (c SettlementConfig) TieRefunds() bool {
	return strings.ToLower(c.TieRule) == "refund"
}

// MaxAgeFor returns the freshness limit for ticks from source.
func (c OracleConfig) MaxAgeFor(source string) time.Duration {
	if d, ok := c.SourceMaxAge[source]; ok && d.Duration > 0 {
		return d.Duration
	}
	return c.MaxTickAge.Duration
}
