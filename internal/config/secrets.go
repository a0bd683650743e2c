package config

import "github.com/shopspring/decimal"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Oracle.TwelveDataAPIKey)
	redact(&out.Server.AdminAPIKey)
	redact(&out.Server.JWTSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Oracle.BinanceSymbols = append([]string(nil), cfg.Oracle.BinanceSymbols...)

	// Paper balances are not secret but the map is shared.
	if cfg.Paper.Wallets != nil {
		out.Paper.Wallets = make(map[string]decimal.Decimal, len(cfg.Paper.Wallets))
		for k, v := range cfg.Paper.Wallets {
			out.Paper.Wallets[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
