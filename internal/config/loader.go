package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env when
// present and applies ESCROWBET_* overrides. A missing file is not an
// error when path is empty. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ESCROWBET_* variable is set and
// non-empty. Secrets are usually injected this way.
func applyEnvOverrides(cfg *Config) {
	// engine
	setStr(&cfg.Engine.ProgramSeed, "ESCROWBET_ENGINE_PROGRAM_SEED")
	setInt(&cfg.Engine.ChainID, "ESCROWBET_ENGINE_CHAIN_ID")
	setDuration(&cfg.Engine.SlotDuration, "ESCROWBET_ENGINE_SLOT_DURATION")
	setStr(&cfg.Engine.Genesis, "ESCROWBET_ENGINE_GENESIS")
	setUint64(&cfg.Engine.MaxPriceAge, "ESCROWBET_ENGINE_MAX_PRICE_AGE")
	setBool(&cfg.Engine.Faucet, "ESCROWBET_ENGINE_FAUCET")
	setUint64(&cfg.Engine.FaucetMax, "ESCROWBET_ENGINE_FAUCET_MAX")

	setStr(&cfg.Store.Backend, "ESCROWBET_STORE_BACKEND")

	// postgres
	setBool(&cfg.Postgres.Enabled, "ESCROWBET_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ESCROWBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ESCROWBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROWBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROWBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWBET_POSTGRES_RUN_MIGRATIONS")

	// redis
	setStr(&cfg.Redis.Addr, "ESCROWBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "ESCROWBET_REDIS_PREFIX")

	// s3
	setBool(&cfg.S3.Enabled, "ESCROWBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESCROWBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWBET_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Oracle.Backend, "ESCROWBET_ORACLE_BACKEND")
	setStr(&cfg.Oracle.Publisher, "ESCROWBET_ORACLE_PUBLISHER")
	setStr(&cfg.Events.Backend, "ESCROWBET_EVENTS_BACKEND")

	// publisher
	setStr(&cfg.Publisher.PrivateKey, "ESCROWBET_PUBLISHER_PRIVATE_KEY")
	setStr(&cfg.Publisher.EncryptedKeyPath, "ESCROWBET_PUBLISHER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Publisher.KeyPassword, "ESCROWBET_PUBLISHER_KEY_PASSWORD")
	setDuration(&cfg.Publisher.Interval, "ESCROWBET_PUBLISHER_INTERVAL")

	// server
	setInt(&cfg.Server.Port, "ESCROWBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ESCROWBET_SERVER_API_KEY")
	setDuration(&cfg.Server.RequestWindow, "ESCROWBET_SERVER_REQUEST_WINDOW")
	setInt(&cfg.Server.RateLimit, "ESCROWBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ESCROWBET_SERVER_RATE_WINDOW")

	// notify
	setStr(&cfg.Notify.DiscordWebhook, "ESCROWBET_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "ESCROWBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "ESCROWBET_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "ESCROWBET_MODE")
	setStr(&cfg.LogLevel, "ESCROWBET_LOG_LEVEL")
}

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
