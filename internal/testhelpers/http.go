package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// APIErrorResponse mirrors the Google-style error body written by the router.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError mirrors the error object inside APIErrorResponse.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// AssertJSONErrorResponse decodes the JSON response from the recorder and
// verifies the HTTP status, error status string, and that the message contains expectedMsg.
func AssertJSONErrorResponse(t *testing.T, recorder *httptest.ResponseRecorder, expectedCode int, expectedStatus, expectedMsg string) {
	t.Helper()

	assert.Equal(t, expectedCode, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var resp APIErrorResponse
	err := json.NewDecoder(recorder.Body).Decode(&resp)
	require.NoError(t, err, "failed to decode JSON error response")

	assert.Equal(t, expectedCode, resp.Error.Code)
	assert.Equal(t, expectedStatus, resp.Error.Status)
	assert.Contains(t, resp.Error.Message, expectedMsg)
}

// NewTestRequest creates an *http.Request with a JSON body for testing.
func NewTestRequest(method, path string, body interface{}) *http.Request {
	var bodyReader *bytes.Reader
	switch b := body.(type) {
	case nil:
		bodyReader = bytes.NewReader(nil)
	case string:
		bodyReader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// GenerateRequestBody returns a minimal valid generateContent request body.
func GenerateRequestBody(prompt string) map[string]interface{} {
	return map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]interface{}{{"text": prompt}}},
		},
	}
}
