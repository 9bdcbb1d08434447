package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// AccountHandler serves token account reads and the development faucet.
type AccountHandler struct {
	engine    Engine
	faucetOn  bool
	faucetMax uint64
	audit     domain.AuditStore
	logger    *slog.Logger
}

// AccountConfig enables the faucet and bounds a single mint.
type AccountConfig struct {
	FaucetEnabled bool
	FaucetMax     uint64
}

// NewAccountHandler creates an AccountHandler. audit may be nil.
func NewAccountHandler(engine Engine, cfg AccountConfig, audit domain.AuditStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine:    engine,
		faucetOn:  cfg.FaucetEnabled,
		faucetMax: cfg.FaucetMax,
		audit:     audit,
		logger:    logger.With(slog.String("handler", "account")),
	}
}

// GetAccount returns an owner's token account for a mint.
// GET /api/accounts/{owner}/{mint}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(r.PathValue("owner"))
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed owner")
		return
	}
	mint, ok := parseAddress(r.PathValue("mint"))
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed mint")
		return
	}
	acct, err := h.engine.TokenAccount(r.Context(), owner, mint)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type faucetRequest struct {
	Owner  common.Address `json:"owner"`
	Mint   common.Address `json:"mint"`
	Amount uint64         `json:"amount"`
}

// Faucet credits test tokens. It answers 404 unless enabled.
// POST /api/faucet
func (h *AccountHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	if !h.faucetOn {
		writeError(w, http.StatusNotFound, "NotFound", "faucet is disabled")
		return
	}
	var req faucetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount == 0 || (h.faucetMax > 0 && req.Amount > h.faucetMax) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "amount out of range")
		return
	}
	acct, err := h.engine.Faucet(r.Context(), req.Owner, req.Mint, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AccountHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeDomainError(w, r, h.logger, domain.ErrUnsupported)
		return
	}
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries, Limit: opts.Limit, Offset: opts.Offset})
}
