package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"charityledger/native/bank"
	"charityledger/native/donation"
)

var (
	errInvalidBody    = errors.New("invalid request body")
	errInvalidID      = errors.New("invalid campaign id")
	errInvalidAddress = errors.New("invalid address")
	errInvalidCursor  = errors.New("invalid cursor")
	errInvalidQuery   = errors.New("invalid query parameter")
	errStreamDisabled = errors.New("event stream disabled")
	errArchiveOff     = errors.New("event archive disabled")
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, donation.ErrCampaignNotFound):
		return http.StatusNotFound
	case errors.Is(err, donation.ErrNotOwner), errors.Is(err, donation.ErrNotCampaignOwner):
		return http.StatusForbidden
	case errors.Is(err, donation.ErrZeroAmount),
		errors.Is(err, donation.ErrInvalidParams),
		errors.Is(err, donation.ErrInvalidWalletAccount):
		return http.StatusBadRequest
	case errors.Is(err, donation.ErrCampaignFinished),
		errors.Is(err, donation.ErrActiveLimitExceeded),
		errors.Is(err, donation.ErrInsufficientCancellationTokens),
		errors.Is(err, donation.ErrTooEarly),
		errors.Is(err, donation.ErrAlreadyInitialized),
		errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, donation.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, donation.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status <= 0 {
		status = statusFor(err)
	}
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		loggerFrom(r.Context()).Error("request failed", "error", err)
		message = http.StatusText(status)
	}
	writeJSON(w, status, ErrorBody{Error: message, RequestID: chimw.GetReqID(r.Context())})
}

type loggerKey struct{}

func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
