package router

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mixaill76/key_rotator/internal/dispatcher"
	"github.com/mixaill76/key_rotator/internal/models"
)

// APIErrorResponse is Google's error envelope.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// statusForCode maps HTTP status codes to Google RPC status strings.
func statusForCode(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case 499:
		return "CANCELLED"
	case http.StatusNotImplemented:
		return "UNIMPLEMENTED"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		if code >= 500 {
			return "INTERNAL"
		}
		return "FAILED_PRECONDITION"
	}
}

// WriteJSONError writes a Google-style JSON error. An empty status is derived from code.
func WriteJSONError(w http.ResponseWriter, code int, message, status string) {
	if status == "" {
		status = statusForCode(code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(APIErrorResponse{
		Error: APIError{
			Code:    code,
			Message: message,
			Status:  status,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDispatchError maps dispatcher errors: capacity problems to 503,
// upstream failures to the upstream's own status (502 when unusable).
func (r *Router) writeDispatchError(w http.ResponseWriter, err error) {
	var upErr *dispatcher.UpstreamError

	switch {
	case errors.Is(err, dispatcher.ErrAllCredentialsExhausted):
		w.Header().Set("Retry-After", retryAfter(r.stats.NextReset()))
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")

	case errors.Is(err, dispatcher.ErrNoActiveGroup):
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")

	case errors.As(err, &upErr):
		code := upErr.StatusCode
		if code < 400 || code > 599 {
			code = http.StatusBadGateway
		}
		WriteJSONError(w, code, upErr.Message, upErr.Status)

	default:
		r.logger.Error("Dispatch failed", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// writeStoreError maps admin store errors to HTTP statuses.
func (r *Router) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, models.ErrDuplicate):
		WriteJSONError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, models.ErrGroupNotEmpty):
		WriteJSONError(w, http.StatusConflict, err.Error(), "FAILED_PRECONDITION")
	case errors.Is(err, models.ErrInvalidInput):
		WriteJSONError(w, http.StatusBadRequest, err.Error(), "")
	default:
		r.logger.Error("Admin store operation failed", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// retryAfter renders the seconds until t, at least 1.
func retryAfter(t time.Time) string {
	secs := math.Ceil(time.Until(t).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}
