package testhelpers

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// UpstreamCall is one request seen by a FakeUpstream.
type UpstreamCall struct {
	Path   string
	Query  string
	APIKey string
	Body   string
}

// FakeUpstream is an httptest server standing in for the Gemini API.
type FakeUpstream struct {
	Server *httptest.Server

	mu      sync.Mutex
	calls   []UpstreamCall
	handler http.HandlerFunc
}

// NewFakeUpstream starts a fake upstream that serves every request with handler.
func NewFakeUpstream(t *testing.T, handler http.HandlerFunc) *FakeUpstream {
	t.Helper()

	f := &FakeUpstream{handler: handler}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, UpstreamCall{
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			APIKey: r.Header.Get("x-goog-api-key"),
			Body:   string(body),
		})
		h := f.handler
		f.mu.Unlock()

		h(w, r)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeUpstream) URL() string {
	return f.Server.URL
}

// SetHandler replaces the handler for subsequent requests.
func (f *FakeUpstream) SetHandler(h http.HandlerFunc) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Calls returns a copy of the recorded requests.
func (f *FakeUpstream) Calls() []UpstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UpstreamCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// GenerateResponseJSON returns a generateContent response with one text candidate and usage.
func GenerateResponseJSON(text string, promptTokens, completionTokens int) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP","index":0}],`+
		`"usageMetadata":{"promptTokenCount":%d,"candidatesTokenCount":%d,"totalTokenCount":%d},"modelVersion":"gemini-2.0-flash"}`,
		text, promptTokens, completionTokens, promptTokens+completionTokens)
}

// ChunkJSON returns a stream chunk carrying text and no usage.
func ChunkJSON(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"index":0}]}`, text)
}

// ErrorJSON returns a Google-style error body.
func ErrorJSON(code int, status, message string) string {
	return fmt.Sprintf(`{"error":{"code":%d,"message":%q,"status":%q}}`, code, message, status)
}

// JSONHandler replies with status and body.
func JSONHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// SSEHandler writes each event as `data: <event>` and flushes after every one.
func SSEHandler(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, ev := range events {
			_, _ = io.WriteString(w, "data: "+strings.TrimSpace(ev)+"\r\n\r\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// SSEBlockingHandler writes events then holds the stream open until the client goes away.
func SSEBlockingHandler(events ...string) http.HandlerFunc {
	send := SSEHandler(events...)
	return func(w http.ResponseWriter, r *http.Request) {
		send(w, r)
		<-r.Context().Done()
	}
}
