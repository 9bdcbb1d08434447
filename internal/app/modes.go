package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/events"
	"github.com/alanyoungcy/escrowbet/internal/notify"
	"github.com/alanyoungcy/escrowbet/internal/server"
	"github.com/alanyoungcy/escrowbet/internal/server/handler"
	"github.com/alanyoungcy/escrowbet/internal/server/ws"
	"github.com/alanyoungcy/escrowbet/internal/settlement"
)

const shutdownTimeout = 5 * time.Second

// NewEngine builds the settlement engine over deps.
func NewEngine(cfg settlement.Config, deps *Dependencies, logger *slog.Logger) *settlement.Engine {
	opts := []settlement.Option{settlement.WithEvents(events.NewPublisher(deps.Bus))}
	if deps.Audit != nil {
		opts = append(opts, settlement.WithAudit(deps.Audit))
	}
	if deps.Receipts != nil {
		opts = append(opts, settlement.WithArchive(deps.Receipts))
	}
	return settlement.New(cfg, deps.Ledger, deps.Clock, deps.Prices, logger, opts...)
}

// NewAPI builds the HTTP server and the WebSocket hub it streams from.
func (a *App) NewAPI(deps *Dependencies) (*server.Server, *ws.Hub) {
	engine := NewEngine(settlement.Config{
		Program:     a.cfg.Engine.ProgramID(),
		MaxPriceAge: a.cfg.Engine.MaxPriceAge,
	}, deps, a.logger)

	auth := handler.NewAuthenticator(a.cfg.Engine.ChainID, a.cfg.Engine.ProgramID(),
		a.cfg.Server.RequestWindow.Duration, deps.Replay)

	var receipts handler.ReceiptReader
	if deps.Receipts != nil {
		receipts = deps.Receipts
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Clock, deps.Checks, a.logger),
		Markets: handler.NewMarketHandler(engine, auth, receipts, a.logger),
		Bets:    handler.NewBetHandler(engine, auth, a.logger),
		Accounts: handler.NewAccountHandler(engine, handler.AccountConfig{
			FaucetEnabled: a.cfg.Engine.Faucet,
			FaucetMax:     a.cfg.Engine.FaucetMax,
		}, deps.Audit, a.logger),
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, auth, hub, deps.RateLimiter, a.logger)
	return srv, hub
}

// ServeMode runs the HTTP API and the WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("program", a.cfg.Engine.ProgramID().Hex()),
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.runAPI(ctx, g, deps)
	return g.Wait()
}

// PublishMode signs and publishes configured prices until ctx is cancelled.
func (a *App) PublishMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting publish mode")

	pub, err := a.newPublisher(deps)
	if err != nil {
		return err
	}
	return pub.Run(ctx)
}

// FullMode runs the API and the price publisher in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	pub, err := a.newPublisher(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.runAPI(ctx, g, deps)
	g.Go(func() error { return pub.Run(ctx) })
	return g.Wait()
}

func (a *App) runAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv, hub := a.NewAPI(deps)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Start(ctx) })
	if n := a.newNotifier(); n.Enabled() {
		g.Go(func() error { return n.Run(ctx, deps.Bus) })
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) newNotifier() *notify.Notifier {
	var senders []notify.Sender
	if a.cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhook))
	}
	if a.cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender("", a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID)
		if err != nil {
			a.logger.Warn("notify: telegram disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}

func (a *App) newPublisher(deps *Dependencies) (*Publisher, error) {
	if deps.PriceSink == nil {
		return nil, fmt.Errorf("app: publisher needs oracle.backend redis")
	}
	pk, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    a.cfg.Publisher.PrivateKey,
		EncryptedKeyPath: a.cfg.Publisher.EncryptedKeyPath,
		KeyPassword:      a.cfg.Publisher.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: publisher key: %w", err)
	}
	prices, err := parsePrices(a.cfg.Publisher.Prices)
	if err != nil {
		return nil, fmt.Errorf("app: publisher prices: %w", err)
	}
	return NewPublisher(
		crypto.NewSignerFromKey(pk, a.cfg.Engine.ChainID, a.cfg.Engine.ProgramID()),
		deps.Clock,
		deps.PriceSink,
		prices,
		a.cfg.Publisher.Interval.Duration,
		a.logger,
	), nil
}
