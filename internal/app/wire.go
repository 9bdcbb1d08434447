package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/escrowbet/internal/blob/s3"
	"github.com/alanyoungcy/escrowbet/internal/cache/redis"
	"github.com/alanyoungcy/escrowbet/internal/clock"
	"github.com/alanyoungcy/escrowbet/internal/config"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/events"
	"github.com/alanyoungcy/escrowbet/internal/oracle"
	"github.com/alanyoungcy/escrowbet/internal/server/handler"
	"github.com/alanyoungcy/escrowbet/internal/store/memory"
	"github.com/alanyoungcy/escrowbet/internal/store/postgres"
)

// Dependencies bundles the backends the modes run on. Optional ones are
// nil when not configured.
type Dependencies struct {
	Ledger domain.Ledger
	Clock  domain.Clock
	// Replay is shared by every node on the same ledger. Nil keeps request
	// digests in process, which only suits the memory ledger.
	Replay domain.ReplayStore
	Prices *oracle.Reader
	Bus    domain.SignalBus

	Audit       domain.AuditStore
	Receipts    *s3blob.Receipts
	RateLimiter domain.RateLimiter

	// PriceSink receives signed attestations in publish mode.
	PriceSink PriceSink

	// Checks are reported by the health endpoint.
	Checks map[string]handler.Check
}

// Wire builds the configured backends. The returned cleanup releases them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	wall, err := clock.NewWall(cfg.Engine.GenesisTime(), cfg.Engine.SlotDuration.Duration)
	if err != nil {
		return fail(fmt.Errorf("wire: clock: %w", err))
	}
	deps.Clock = wall

	// --- PostgreSQL ---
	var pg *postgres.Client
	if cfg.Postgres.Enabled {
		pg, err = postgres.New(ctx, postgres.ClientConfig{
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = func(ctx context.Context) error { return pg.Pool().Ping(ctx) }
	}

	// --- Redis ---
	var rc *redis.Client
	if cfg.UsesRedis() {
		rc, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Checks["redis"] = rc.Ping
		deps.RateLimiter = redis.NewRateLimiter(rc)
	}

	// --- Ledger ---
	switch cfg.Store.Backend {
	case "postgres":
		deps.Ledger = postgres.NewLedgerStore(pg.Pool())
		deps.Replay = postgres.NewReplayStore(pg.Pool())
	case "redis":
		deps.Ledger = redis.NewLedgerStore(rc)
		deps.Replay = redis.NewReplayStore(rc)
	default:
		deps.Ledger = memory.New()
	}

	// --- Events ---
	if cfg.Events.Backend == "redis" {
		deps.Bus = redis.NewSignalBus(rc)
	} else {
		deps.Bus = events.NewMemoryBus()
	}

	// --- Oracle ---
	var feed domain.PriceFeed
	switch cfg.Oracle.Backend {
	case "redis":
		pf := redis.NewPriceFeed(rc)
		feed = pf
		deps.PriceSink = pf
	default:
		prices, err := parsePrices(cfg.Oracle.Prices)
		if err != nil {
			return fail(fmt.Errorf("wire: oracle prices: %w", err))
		}
		feed = oracle.NewFixedFeed(deps.Clock, prices)
	}
	var readerOpts []oracle.Option
	if cfg.Oracle.Publisher != "" {
		readerOpts = append(readerOpts, oracle.WithPublisher(common.HexToAddress(cfg.Oracle.Publisher)))
	}
	deps.Prices = oracle.NewReader(feed, readerOpts...)

	// --- S3 receipts ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Receipts = s3blob.NewReceipts(s3blob.NewWriter(s3c), s3blob.NewReader(s3c))
		deps.Checks["s3"] = s3c.Health
	}

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.Bool("postgres", pg != nil),
		slog.Bool("redis", rc != nil),
		slog.Bool("s3", deps.Receipts != nil),
	)
	return deps, cleanup, nil
}

// parsePrices converts configured prices keyed by feed id.
func parsePrices(in map[string]int64) (map[domain.FeedID]int64, error) {
	out := make(map[domain.FeedID]int64, len(in))
	for k, v := range in {
		id, err := domain.ParseFeedID(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
