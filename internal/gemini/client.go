// Package gemini is a minimal REST client for the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/logger"
	"github.com/mixaill76/key_rotator/internal/security"
	"google.golang.org/genai"
)

const (
	defaultResponseHeaderTimeout = 60 * time.Second
	defaultMaxIdleConns          = 100
	defaultMaxIdleConnsPerHost   = 10
	defaultIdleConnTimeout       = 90 * time.Second
	maxResponseSizeBytes         = 32 * 1024 * 1024
	maxErrorBodyBytes            = 64 * 1024
	maxLoggedFieldLength         = 200
)

// Response is a decoded non-streaming reply together with its raw bytes,
// which are what gets returned to the caller.
type Response struct {
	Raw    json.RawMessage
	Parsed *genai.GenerateContentResponse
}

// Usage returns the token counts the upstream reported, or nil.
func (r *Response) Usage() *genai.GenerateContentResponseUsageMetadata {
	if r == nil || r.Parsed == nil {
		return nil
	}
	return r.Parsed.UsageMetadata
}

// ErrResponseTooLarge is returned when a unary reply exceeds the client's size limit.
var ErrResponseTooLarge = errors.New("gemini: response too large")

type Client struct {
	http       *http.Client
	baseURL    string
	apiVersion string
	logger     *slog.Logger
	maxBody    int64
}

// NewClient builds a client for cfg. The HTTP client has no overall timeout
// because streams can run for minutes; the transport bounds connect + headers.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	headerTimeout := cfg.ResponseHeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = defaultResponseHeaderTimeout
	}
	perHost := cfg.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = defaultMaxIdleConnsPerHost
	}

	return &Client{
		http: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: headerTimeout,
				MaxIdleConns:          defaultMaxIdleConns,
				MaxIdleConnsPerHost:   perHost,
				IdleConnTimeout:       defaultIdleConnTimeout,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		maxBody:    maxResponseSizeBytes,
		apiVersion: strings.Trim(cfg.APIVersion, "/"),
		logger:     logger,
	}
}

// Generate calls models/{model}:generateContent with secret.
func (c *Client) Generate(ctx context.Context, secret, model string, body []byte) (*Response, error) {
	resp, err := c.do(ctx, secret, c.endpoint(model, "generateContent", false), body)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp.Body, c.logger)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	if int64(len(raw)) > c.maxBody {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, c.maxBody)
	}

	var parsed genai.GenerateContentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}

	return &Response{Raw: raw, Parsed: &parsed}, nil
}

// GenerateStream calls models/{model}:streamGenerateContent?alt=sse and
// returns a reader over the SSE chunks. The caller must Close it.
func (c *Client) GenerateStream(ctx context.Context, secret, model string, body []byte) (*StreamReader, error) {
	resp, err := c.do(ctx, secret, c.endpoint(model, "streamGenerateContent", true), body)
	if err != nil {
		return nil, err
	}
	return newStreamReader(resp.Body), nil
}

func (c *Client) endpoint(model, method string, sse bool) string {
	u := fmt.Sprintf("%s/%s/models/%s:%s", c.baseURL, c.apiVersion, url.PathEscape(model), method)
	if sse {
		u += "?alt=sse"
	}
	return u
}

// do sends the request and converts non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, secret, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", secret)

	if c.logger.Enabled(ctx, slog.LevelDebug) {
		c.logger.Debug("Upstream request",
			"url", endpoint,
			"headers", security.MaskSensitiveHeaders(req.Header),
			"body", logger.TruncateLongFields(string(body), maxLoggedFieldLength),
		)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer closeBody(resp.Body, c.logger)
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := parseAPIError(resp.StatusCode, errBody)
		c.logger.Debug("Upstream returned error",
			"status", resp.StatusCode,
			"upstream_status", apiErr.Status,
			"message", apiErr.Message,
		)
		return nil, apiErr
	}

	return resp, nil
}

func closeBody(body io.Closer, logger *slog.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug("Failed to close response body", "error", err)
	}
}
