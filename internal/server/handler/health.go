package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports liveness, the current slot and dependency checks.
type HealthHandler struct {
	clock  domain.Clock
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(clock domain.Clock, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{clock: clock, checks: checks, logger: logger}
}

// HealthCheck answers 200 when every check passes and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"dependencies": deps,
	}
	if h.clock != nil {
		if slot, err := h.clock.Slot(ctx); err == nil {
			body["slot"] = slot
		}
	}
	writeJSON(w, code, body)
}
