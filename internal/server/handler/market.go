package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/settlement"
)

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	engine   Engine
	auth     *Authenticator
	receipts ReceiptReader
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. receipts may be nil.
func NewMarketHandler(engine Engine, auth *Authenticator, receipts ReceiptReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{engine: engine, auth: auth, receipts: receipts, logger: logger.With(slog.String("handler", "market"))}
}

type createMarketRequest struct {
	TargetPrice uint64 `json:"target_price"`
	FeedID      string `json:"feed_id"`
	Duration    uint64 `json:"duration"`
	Signed
}

type initializePoolsRequest struct {
	Mint common.Address `json:"mint"`
	Signed
}

type marketRequest struct {
	Signed
}

// CreateMarket creates a market owned by the signer.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	op := crypto.Operation{Kind: crypto.OpCreateMarket, TargetPrice: req.TargetPrice, FeedID: req.FeedID, Duration: req.Duration}
	caller, digest, err := h.auth.Caller(r.Context(), op, req.Signed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	m, err := h.engine.CreateMarket(r.Context(), caller, settlement.CreateMarketRequest{
		TargetPrice: req.TargetPrice,
		FeedID:      req.FeedID,
		Duration:    req.Duration,
	})
	if err != nil {
		h.auth.Release(r.Context(), digest, err)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// InitializePools opens both pools of a market.
// POST /api/markets/{id}/pools
func (h *MarketHandler) InitializePools(w http.ResponseWriter, r *http.Request) {
	market, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req initializePoolsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller, digest, err := h.auth.Caller(r.Context(), crypto.Operation{Kind: crypto.OpInitializePools, Market: market, Mint: req.Mint}, req.Signed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	m, err := h.engine.InitializePools(r.Context(), caller, settlement.InitializePoolsRequest{Market: market, Mint: req.Mint})
	if err != nil {
		h.auth.Release(r.Context(), digest, err)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CancelMarket closes a market with empty pools.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, crypto.OpCancelMarket, h.engine.CancelMarket)
}

// FinalizeMarket sweeps a market after its lock period.
// POST /api/markets/{id}/finalize
func (h *MarketHandler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, crypto.OpFinalizeMarket, h.engine.FinalizeMarket)
}

type closeFunc func(ctx context.Context, caller common.Address, req settlement.MarketRequest) (domain.Settlement, error)

func (h *MarketHandler) close(w http.ResponseWriter, r *http.Request, kind string, fn closeFunc) {
	market, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req marketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller, digest, err := h.auth.Caller(r.Context(), crypto.Operation{Kind: kind, Market: market}, req.Signed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	s, err := fn(r.Context(), caller, settlement.MarketRequest{Market: market})
	if err != nil {
		h.auth.Release(r.Context(), digest, err)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetMarket returns a market with its phase and pool balances.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	info, err := h.engine.GetMarket(r.Context(), market)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type listBetsResponse struct {
	Market common.Hash  `json:"market"`
	Bets   []domain.Bet `json:"bets"`
}

// ListBets returns the live bets of a market.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	market, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	bets, err := h.engine.ListBets(r.Context(), market)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Market: market, Bets: bets})
}

// GetReceipt returns the archived settlement of a closed market.
// GET /api/markets/{id}/receipt
func (h *MarketHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	market, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	if h.receipts == nil {
		writeDomainError(w, r, h.logger, domain.ErrUnsupported)
		return
	}
	s, err := h.receipts.Settlement(r.Context(), market)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
