package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 16

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it with status. A marshal
// failure becomes a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// StatusFor maps an engine error to an HTTP status by its kind.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrRequestExpired):
		return http.StatusUnauthorized
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState, domain.KindDoubleClaim, domain.KindCollision, domain.KindConflict:
		return http.StatusConflict
	case domain.KindCustody:
		return http.StatusUnprocessableEntity
	case domain.KindOracle:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with its code. Internal errors are logged
// and reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, domain.CodeOf(err), "internal error")
		return
	}
	writeError(w, status, domain.CodeOf(err), err.Error())
}

// decodeJSON reads a single JSON object from the request body into v,
// rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// parseHash parses a 0x-prefixed 32-byte hex identifier.
func parseHash(s string) (common.Hash, bool) {
	if len(s) != 66 || !isHex(s[2:]) || (s[:2] != "0x" && s[:2] != "0X") {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// pathHash reads a hex identifier path parameter, writing a 400 when it is
// malformed.
func pathHash(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	h, ok := parseHash(r.PathValue(name))
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed "+name)
	}
	return h, ok
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	return opts
}
