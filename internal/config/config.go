// Package config defines the escrowd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by ESCROWBET_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Oracle    OracleConfig    `toml:"oracle"`
	Events    EventsConfig    `toml:"events"`
	Publisher PublisherConfig `toml:"publisher"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds settlement parameters.
type EngineConfig struct {
	// ProgramSeed is hashed into the program id every record address is
	// derived under. A 0x-prefixed 32-byte hex value is used verbatim.
	ProgramSeed  string   `toml:"program_seed"`
	ChainID      int      `toml:"chain_id"`
	SlotDuration duration `toml:"slot_duration"`
	// Genesis is the RFC 3339 time of slot zero.
	Genesis     string `toml:"genesis"`
	MaxPriceAge uint64 `toml:"max_price_age"`
	// Faucet enables POST /api/faucet. Development only.
	Faucet    bool   `toml:"faucet"`
	FaucetMax uint64 `toml:"faucet_max"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory, postgres or redis
}

// PostgresConfig holds PostgreSQL connection parameters. The audit log
// lives in postgres whenever it is configured, whatever the ledger backend.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// S3Config holds the settlement receipt archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig selects where prices are read from.
type OracleConfig struct {
	Backend string `toml:"backend"` // static or redis
	// Publisher, when set, is the only address whose attestations are
	// accepted.
	Publisher string `toml:"publisher"`
	// Prices seeds the static backend, keyed by feed id.
	Prices map[string]int64 `toml:"prices"`
}

// EventsConfig selects the event bus.
type EventsConfig struct {
	Backend string `toml:"backend"` // memory or redis
}

// PublisherConfig runs the price publisher (mode publish or full).
type PublisherConfig struct {
	PrivateKey       string           `toml:"private_key"`
	EncryptedKeyPath string           `toml:"encrypted_key_path"`
	KeyPassword      string           `toml:"key_password"`
	Interval         duration         `toml:"interval"`
	Prices           map[string]int64 `toml:"prices"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RequestWindow bounds how far ahead a signed request's deadline may be.
	RequestWindow duration `toml:"request_window"`
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
}

// NotifyConfig forwards lifecycle events to operator chat channels. A
// channel is active when its credentials are set.
type NotifyConfig struct {
	DiscordWebhook string `toml:"discord_webhook"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	// Events filters by event type; empty means market_finalized and
	// market_cancelled, "*" means all.
	Events []string `toml:"events"`
}

// duration wraps time.Duration for TOML strings such as "400ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ProgramID returns the program id named by ProgramSeed.
func (e EngineConfig) ProgramID() common.Hash {
	if b, err := hexutil.Decode(e.ProgramSeed); err == nil && len(b) == common.HashLength {
		return common.BytesToHash(b)
	}
	return ethcrypto.Keccak256Hash([]byte(e.ProgramSeed))
}

// GenesisTime parses Genesis. Validate rejects values it cannot parse.
func (e EngineConfig) GenesisTime() time.Time {
	t, _ := time.Parse(time.RFC3339, e.Genesis)
	return t
}

// Defaults returns a configuration that runs entirely in memory.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ProgramSeed:  "escrowbet",
			ChainID:      31337,
			SlotDuration: duration{400 * time.Millisecond},
			Genesis:      "2024-01-01T00:00:00Z",
			MaxPriceAge:  domain.MaxPriceAge,
			FaucetMax:    1_000_000_000,
		},
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "escrowbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "escrow",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrowbet-receipts",
			ForcePathStyle: true,
		},
		Oracle:    OracleConfig{Backend: "static"},
		Events:    EventsConfig{Backend: "memory"},
		Publisher: PublisherConfig{Interval: duration{2 * time.Second}},
		Server: ServerConfig{
			Port:          8080,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RequestWindow: duration{5 * time.Minute},
			RateWindow:    duration{time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var (
	validModes       = map[string]bool{"serve": true, "publish": true, "full": true}
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validStores      = map[string]bool{"memory": true, "postgres": true, "redis": true}
	validOracles     = map[string]bool{"static": true, "redis": true}
	validEventBusses = map[string]bool{"memory": true, "redis": true}
)

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: serve, publish, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if strings.TrimSpace(c.Engine.ProgramSeed) == "" {
		add("engine.program_seed is required")
	}
	if c.Engine.ChainID <= 0 {
		add("engine.chain_id must be positive, got %d", c.Engine.ChainID)
	}
	if c.Engine.SlotDuration.Duration <= 0 {
		add("engine.slot_duration must be positive")
	}
	if _, err := time.Parse(time.RFC3339, c.Engine.Genesis); err != nil {
		add("engine.genesis %q is not RFC 3339", c.Engine.Genesis)
	}
	if c.Engine.MaxPriceAge == 0 {
		add("engine.max_price_age must be positive")
	}

	if !validStores[c.Store.Backend] {
		add("unknown store.backend %q (valid: memory, postgres, redis)", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && !c.Postgres.Enabled {
		add("store.backend postgres requires postgres.enabled")
	}
	if c.UsesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		add("redis.addr is required by the configured backends")
	}
	if c.S3.Enabled && strings.TrimSpace(c.S3.Bucket) == "" {
		add("s3.bucket is required when s3 is enabled")
	}

	if !validOracles[c.Oracle.Backend] {
		add("unknown oracle.backend %q (valid: static, redis)", c.Oracle.Backend)
	}
	if c.Oracle.Publisher != "" && !common.IsHexAddress(c.Oracle.Publisher) {
		add("oracle.publisher %q is not an address", c.Oracle.Publisher)
	}
	for feed := range c.Oracle.Prices {
		if _, err := domain.ParseFeedID(feed); err != nil {
			add("oracle.prices: %v", err)
		}
	}
	if !validEventBusses[c.Events.Backend] {
		add("unknown events.backend %q (valid: memory, redis)", c.Events.Backend)
	}

	if mode == "publish" || mode == "full" {
		if c.Publisher.PrivateKey == "" && c.Publisher.EncryptedKeyPath == "" {
			add("publisher needs private_key or encrypted_key_path in mode %s", mode)
		}
		if c.Publisher.Interval.Duration <= 0 {
			add("publisher.interval must be positive")
		}
		if len(c.Publisher.Prices) == 0 {
			add("publisher.prices is empty")
		}
		if c.Oracle.Backend != "redis" {
			add("mode %s publishes to redis and requires oracle.backend redis", mode)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RequestWindow.Duration <= 0 {
		add("server.request_window must be positive")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit must not be negative")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify.telegram_token and notify.telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis connection. Rate
// limiting is Redis-backed.
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == "redis" || c.Oracle.Backend == "redis" ||
		c.Events.Backend == "redis" || c.Server.RateLimit > 0
}
