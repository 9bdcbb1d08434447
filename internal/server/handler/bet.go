package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/settlement"
)

// BetHandler serves bet endpoints.
type BetHandler struct {
	engine Engine
	auth   *Authenticator
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(engine Engine, auth *Authenticator, logger *slog.Logger) *BetHandler {
	return &BetHandler{engine: engine, auth: auth, logger: logger.With(slog.String("handler", "bet"))}
}

type placeBetRequest struct {
	Amount    uint64           `json:"amount"`
	Direction domain.Direction `json:"direction"`
	Signed
}

type betRequest struct {
	Market common.Hash `json:"market"`
	Signed
}

// PlaceBet stakes the signer's tokens on one side of a market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	market, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	var req placeBetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	op := crypto.Operation{Kind: crypto.OpPlaceBet, Market: market, Amount: req.Amount, Direction: uint8(req.Direction)}
	caller, digest, err := h.auth.Caller(r.Context(), op, req.Signed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	bet, err := h.engine.PlaceBet(r.Context(), caller, settlement.PlaceBetRequest{
		Market:    market,
		Amount:    req.Amount,
		Direction: req.Direction,
	})
	if err != nil {
		h.auth.Release(r.Context(), digest, err)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// ClaimBet pays out a winning bet.
// POST /api/bets/{id}/claim
func (h *BetHandler) ClaimBet(w http.ResponseWriter, r *http.Request) {
	bet, req, caller, digest, ok := h.signedBet(w, r, crypto.OpClaimBet)
	if !ok {
		return
	}
	c, err := h.engine.ClaimBet(r.Context(), caller, settlement.ClaimBetRequest{Market: req.Market, Bet: bet})
	if err != nil {
		h.auth.Release(r.Context(), digest, err)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CancelBet refunds a bet while its market is open.
// POST /api/bets/{id}/cancel
func (h *BetHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	bet, req, caller, digest, ok := h.signedBet(w, r, crypto.OpCancelBet)
	if !ok {
		return
	}
	b, err := h.engine.CancelBet(r.Context(), caller, settlement.CancelBetRequest{Market: req.Market, Bet: bet})
	if err != nil {
		h.auth.Release(r.Context(), digest, err)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BetHandler) signedBet(w http.ResponseWriter, r *http.Request, kind string) (common.Hash, betRequest, common.Address, common.Hash, bool) {
	var req betRequest
	bet, ok := pathHash(w, r, "id")
	if !ok {
		return common.Hash{}, req, common.Address{}, common.Hash{}, false
	}
	if !decodeJSON(w, r, &req) {
		return common.Hash{}, req, common.Address{}, common.Hash{}, false
	}
	caller, digest, err := h.auth.Caller(r.Context(), crypto.Operation{Kind: kind, Market: req.Market, Bet: bet}, req.Signed)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return common.Hash{}, req, common.Address{}, common.Hash{}, false
	}
	return bet, req, caller, digest, true
}

// GetBet returns a live bet or the receipt of a claimed one.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	bet, ok := pathHash(w, r, "id")
	if !ok {
		return
	}
	info, err := h.engine.GetBet(r.Context(), bet)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
