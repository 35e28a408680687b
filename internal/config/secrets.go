package config

import (
	"maps"
	"slices"

	"github.com/alanyoungcy/tarbot/internal/crypto"
)

// Redacted returns a copy of c with every secret replaced by "***". Use it
// when logging the active configuration.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	for _, ex := range []*ExchangeConfig{&out.Exchanges.Coinbase, &out.Exchanges.Binance} {
		redact(&ex.APIKey)
		redact(&ex.Secret)
		redact(&ex.SecretPassword)
		redact(&ex.Passphrase)
		ex.Pairs = slices.Clone(ex.Pairs)
	}

	// Copy slices and maps so callers cannot mutate the original through
	// the redacted copy.
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(c.Notify.Events)
	out.Orders.FillSchedule = slices.Clone(c.Orders.FillSchedule)
	out.RateLimit.PerExchange = maps.Clone(c.RateLimit.PerExchange)
	out.Currencies.Stablecoins = slices.Clone(c.Currencies.Stablecoins)
	out.Currencies.Fiat = slices.Clone(c.Currencies.Fiat)
	out.Currencies.Popcoins = slices.Clone(c.Currencies.Popcoins)

	return out
}

// ResolveSecret returns the exchange API secret, decrypting SecretFile when
// no raw secret is set.
func (e ExchangeConfig) ResolveSecret() (string, error) {
	return crypto.LoadSecret(crypto.SecretConfig{
		Raw:           e.Secret,
		EncryptedPath: e.SecretFile,
		Password:      e.SecretPassword,
	})
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
