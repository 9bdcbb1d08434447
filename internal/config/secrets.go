package config

import "maps"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Publisher.PrivateKey)
	redact(&out.Publisher.KeyPassword)
	redact(&out.Server.APIKey)
	redact(&out.Notify.DiscordWebhook)
	redact(&out.Notify.TelegramToken)

	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Oracle.Prices = maps.Clone(cfg.Oracle.Prices)
	out.Publisher.Prices = maps.Clone(cfg.Publisher.Prices)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
