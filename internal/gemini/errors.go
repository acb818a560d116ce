package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// StatusResourceExhausted is the Google RPC status of quota and rate errors.
const StatusResourceExhausted = "RESOURCE_EXHAUSTED"

// APIError is a non-2xx upstream response, or an error object sent inside a stream.
type APIError struct {
	HTTPStatus int
	Code       int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: %d %s: %s", e.HTTPStatus, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: %d: %s", e.HTTPStatus, e.Message)
}

// IsQuotaExceeded reports a quota or rate limit error.
func (e *APIError) IsQuotaExceeded() bool {
	return e.HTTPStatus == http.StatusTooManyRequests ||
		e.Code == http.StatusTooManyRequests ||
		e.Status == StatusResourceExhausted
}

// CodeString is the value stored as the usage record error code.
func (e *APIError) CodeString() string {
	if e.HTTPStatus != 0 {
		return strconv.Itoa(e.HTTPStatus)
	}
	return strconv.Itoa(e.Code)
}

// IsQuotaError reports whether err wraps a quota APIError.
func IsQuotaError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsQuotaExceeded()
}

// errorEnvelope is Google's JSON error shape.
type errorEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseAPIError builds an APIError from a response body. Bodies that are not
// Google error JSON become the message verbatim (truncated).
func parseAPIError(httpStatus int, body []byte) *APIError {
	apiErr := &APIError{HTTPStatus: httpStatus, Code: httpStatus}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		if env.Error.Code != 0 {
			apiErr.Code = env.Error.Code
		}
		apiErr.Status = env.Error.Status
		apiErr.Message = env.Error.Message
	}

	if apiErr.Message == "" {
		apiErr.Message = safeStringPreview(body, 500)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(httpStatus)
	}
	return apiErr
}

// safeStringPreview converts bytes to a printable string, escaping invalid UTF-8.
func safeStringPreview(data []byte, maxLen int) string {
	if len(data) == 0 {
		return ""
	}

	if len(data) > maxLen {
		data = data[:maxLen]
	}

	escaped := fmt.Sprintf("%q", data)
	if len(escaped) > 2 {
		return escaped[1 : len(escaped)-1]
	}
	return escaped
}
