package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mixaill76/key_rotator/internal/gemini"
	"github.com/mixaill76/key_rotator/internal/keypool"
)

var (
	// ErrNoActiveGroup is returned when no group is selected for traffic.
	ErrNoActiveGroup = keypool.ErrNoActiveGroup

	// ErrAllCredentialsExhausted is returned when every credential of the
	// active group is over quota, cooling down or the group is empty.
	ErrAllCredentialsExhausted = errors.New("all credentials of the active group are exhausted")

	// ErrUpstreamQuotaExceeded matches an UpstreamError caused by a quota or rate limit.
	ErrUpstreamQuotaExceeded = errors.New("upstream quota exceeded")

	// ErrUpstreamOther matches every other UpstreamError.
	ErrUpstreamOther = errors.New("upstream error")

	// errClientClosed finalizes a stream the caller abandoned.
	errClientClosed = errors.New("client closed the stream")
)

// Error codes stored on failure records that have no HTTP status.
const (
	CodeClientClosed = "client_closed"
)

// IsNoCapacity reports a retryable capacity failure: no active group or no
// usable credential.
func IsNoCapacity(err error) bool {
	return errors.Is(err, ErrNoActiveGroup) || errors.Is(err, ErrAllCredentialsExhausted)
}

// UpstreamError is a failed upstream call as surfaced to the caller. StatusCode
// is the HTTP status to pass through.
type UpstreamError struct {
	StatusCode    int
	Status        string
	Message       string
	QuotaExceeded bool
	Err           error
}

func (e *UpstreamError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets callers test the class with errors.Is(err, ErrUpstreamQuotaExceeded).
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamQuotaExceeded:
		return e.QuotaExceeded
	case ErrUpstreamOther:
		return !e.QuotaExceeded
	}
	return false
}

// Code is the value stored as the usage record error code.
func (e *UpstreamError) Code() string {
	if errors.Is(e.Err, errClientClosed) || errors.Is(e.Err, context.Canceled) {
		return CodeClientClosed
	}
	return strconv.Itoa(e.StatusCode)
}

// toUpstreamError classifies err. Upstream API errors keep their status;
// deadlines map to 504, cancellations to 499 and transport failures to 502.
func toUpstreamError(err error) *UpstreamError {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr
	}

	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadGateway
		}
		return &UpstreamError{
			StatusCode:    status,
			Status:        apiErr.Status,
			Message:       apiErr.Message,
			QuotaExceeded: apiErr.IsQuotaExceeded(),
			Err:           err,
		}
	}

	switch {
	case errors.Is(err, errClientClosed), errors.Is(err, context.Canceled):
		return &UpstreamError{
			StatusCode: 499,
			Status:     "CANCELLED",
			Message:    "request cancelled by client",
			Err:        err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &UpstreamError{
			StatusCode: http.StatusGatewayTimeout,
			Status:     "DEADLINE_EXCEEDED",
			Message:    "upstream request timed out",
			Err:        err,
		}
	default:
		return &UpstreamError{
			StatusCode: http.StatusBadGateway,
			Status:     "UNAVAILABLE",
			Message:    err.Error(),
			Err:        err,
		}
	}
}
