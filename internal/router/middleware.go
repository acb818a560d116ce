package router

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mixaill76/key_rotator/internal/security"
)

// responseCapture records the status code for request logging while keeping
// the Flusher and Hijacker of the wrapped writer reachable for SSE and
// WebSocket handlers.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(p []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(p)
	rc.written += int64(n)
	return n, err
}

func (rc *responseCapture) Flush() {
	if flusher, ok := rc.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rc *responseCapture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rc.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

func isErrorStatus(statusCode int) bool {
	return statusCode >= 400
}

// logRequests logs one line per request; 4xx/5xx at warn level.
func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rc := newResponseCapture(w)

		next.ServeHTTP(rc, req)

		attrs := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", rc.statusCode,
			"bytes", rc.written,
			"duration", time.Since(start),
			"client", req.RemoteAddr,
		}
		if req.URL.RawQuery != "" {
			attrs = append(attrs, "query", security.MaskQueryKey(req.URL.RawQuery))
		}
		if isErrorStatus(rc.statusCode) {
			r.logger.Warn("HTTP request failed", attrs...)
			return
		}
		r.logger.Debug("HTTP request", attrs...)
	})
}
