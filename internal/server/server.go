// Package server exposes the settlement engine over HTTP and streams its
// events over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/server/handler"
	"github.com/alanyoungcy/escrowbet/internal/server/middleware"
	"github.com/alanyoungcy/escrowbet/internal/server/ws"
)

// sweepInterval is how often expired request digests are dropped.
const sweepInterval = time.Minute

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the operator routes (faucet, audit). Empty disables
	// the check.
	APIKey string
	// RateLimit requests per RateWindow per client IP. Zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	Accounts *handler.AccountHandler
}

// Server is the HTTP and WebSocket API of the engine.
type Server struct {
	httpServer *http.Server
	auth       *handler.Authenticator
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, auth *handler.Authenticator, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	operator := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/pools", handlers.Markets.InitializePools)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Markets.FinalizeMarket)
	mux.HandleFunc("GET /api/markets/{id}/receipt", handlers.Markets.GetReceipt)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Markets.ListBets)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Bets.PlaceBet)

	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("POST /api/bets/{id}/cancel", handlers.Bets.CancelBet)
	mux.HandleFunc("POST /api/bets/{id}/claim", handlers.Bets.ClaimBet)

	mux.HandleFunc("GET /api/accounts/{owner}/{mint}", handlers.Accounts.GetAccount)
	mux.Handle("POST /api/faucet", operator(http.HandlerFunc(handlers.Accounts.Faucet)))
	mux.Handle("GET /api/audit", operator(http.HandlerFunc(handlers.Accounts.ListAudit)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		auth:   auth,
		logger: logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server is shut down. It also sweeps expired
// request digests until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.sweep(ctx)
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

func (s *Server) sweep(ctx context.Context) {
	if s.auth == nil {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.auth.Sweep(ctx); err != nil {
				s.logger.WarnContext(ctx, "server: sweep request digests", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.DebugContext(ctx, "server: swept request digests", slog.Int64("removed", n))
			}
		}
	}
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
