package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"ledger/internal/service"

	"github.com/rs/zerolog/log"
)

const (
	defaultAccount = "account"
	defaultCharge  = int64(10)

	// statusClientClosedRequest is nginx's code for a client that went away.
	statusClientClosedRequest = 499
)

// Ledger is the account API the HTTP layer depends on.
type Ledger interface {
	Reset(ctx context.Context, account string) error
	Charge(ctx context.Context, account string, amount int64) (service.ChargeResult, error)
	Inspect(ctx context.Context, account string) (service.AccountState, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// LedgerHandler serves the reset, charge and store-latency endpoints.
type LedgerHandler struct {
	ledger     Ledger
	retryAfter string
}

// NewLedgerHandler builds the handler. retryAfter is advertised to clients
// whose charge lost the race for the account lock.
func NewLedgerHandler(l Ledger, retryAfter time.Duration) *LedgerHandler {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &LedgerHandler{ledger: l, retryAfter: strconv.Itoa(secs)}
}

// Register mounts the routes on mux. operator, when non-nil, wraps the
// administrative reset route (typically with authentication).
func (h *LedgerHandler) Register(mux *http.ServeMux, operator func(http.Handler) http.Handler) {
	var reset http.Handler = http.HandlerFunc(h.Reset)
	if operator != nil {
		reset = operator(reset)
	}
	mux.Handle("POST /reset", reset)
	mux.HandleFunc("POST /charge", h.Charge)
	mux.HandleFunc("GET /measure-redis", h.MeasureStore)
}

type resetRequest struct {
	Account *string `json:"account"`
}

type chargeRequest struct {
	Account *string `json:"account"`
	Charges *int64  `json:"charges"`
}

// ChargeResponse is the wire form of service.ChargeResult.
type ChargeResponse struct {
	IsAuthorized     bool  `json:"isAuthorized"`
	RemainingBalance int64 `json:"remainingBalance"`
	Charges          int64 `json:"charges"`
}

func (h *LedgerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	account := stringOr(req.Account, defaultAccount)

	if err := h.ledger.Reset(r.Context(), account); err != nil {
		h.fail(w, r, err)
		return
	}
	log.Info().Str("account", account).Msg("account reset")
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	account := stringOr(req.Account, defaultAccount)
	amount := defaultCharge
	if req.Charges != nil {
		amount = *req.Charges
	}

	res, err := h.ledger.Charge(r.Context(), account, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	log.Info().Str("account", account).
		Int64("amount", amount).
		Bool("authorized", res.IsAuthorized).
		Int64("remaining", res.RemainingBalance).
		Msg("charge processed")
	writeJSON(w, http.StatusOK, ChargeResponse{
		IsAuthorized:     res.IsAuthorized,
		RemainingBalance: res.RemainingBalance,
		Charges:          res.ChargedAmount,
	})
}

// MeasureStore reports one store round trip in milliseconds.
func (h *LedgerHandler) MeasureStore(w http.ResponseWriter, r *http.Request) {
	d, err := h.ledger.Ping(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"latency": float64(d) / float64(time.Millisecond),
	})
}

// fail maps service errors onto HTTP responses. Contention and store failures
// are both server-side, but contention is 503 with Retry-After so clients can
// back off and retry.
func (h *LedgerHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	reqID := r.Header.Get("X-Request-ID")
	var svcErr service.Error
	switch {
	case errors.Is(err, service.ErrLockNotAcquired):
		log.Debug().Str("request_id", reqID).Msg("account busy")
		w.Header().Set("Retry-After", h.retryAfter)
		writeError(w, http.StatusServiceUnavailable, service.ErrLockNotAcquired.Code, err.Error(), reqID)
	case errors.Is(err, context.Canceled):
		log.Debug().Str("request_id", reqID).Str("path", r.URL.Path).Msg("client gone before the request finished")
		writeError(w, statusClientClosedRequest, "request_cancelled", err.Error(), reqID)
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidAccount):
		errors.As(err, &svcErr)
		writeError(w, http.StatusBadRequest, svcErr.Code, err.Error(), reqID)
	default:
		log.Error().Err(err).Str("request_id", reqID).Str("path", r.URL.Path).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, "store_error", err.Error(), reqID)
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON body", r.Header.Get("X-Request-ID"))
	return false
}

// stringOr returns def only when the field was omitted; an explicit empty
// string is kept and rejected by the service.
func stringOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg, reqID string) {
	writeJSON(w, status, map[string]interface{}{
		"error":      code,
		"message":    msg,
		"request_id": reqID,
	})
}
