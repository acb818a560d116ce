package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mixaill76/key_rotator/internal/dispatcher"
	"github.com/mixaill76/key_rotator/internal/gemini"
)

const (
	actionGenerate       = "generateContent"
	actionStreamGenerate = "streamGenerateContent"
)

// splitModelAction splits "gemini-2.0-flash:generateContent".
func splitModelAction(segment string) (model, action string, ok bool) {
	idx := strings.LastIndex(segment, ":")
	if idx <= 0 || idx == len(segment)-1 {
		return "", "", false
	}
	return segment[:idx], segment[idx+1:], true
}

// clientIdentifier is the caller IP. chi's RealIP has already replaced
// RemoteAddr when a forwarding header is present.
func clientIdentifier(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func (r *Router) handleModelAction(w http.ResponseWriter, req *http.Request) {
	model, action, ok := splitModelAction(chi.URLParam(req, "modelAction"))
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "expected models/{model}:{method}", "")
		return
	}

	var streaming bool
	switch action {
	case actionGenerate:
	case actionStreamGenerate:
		streaming = true
	default:
		WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("method %q is not supported", action), "UNIMPLEMENTED")
		return
	}

	maxBytes := int64(r.cfg.Server.MaxBodySizeMB) * 1024 * 1024
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSONError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d MB", r.cfg.Server.MaxBodySizeMB), "")
			return
		}
		WriteJSONError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}

	if _, err := gemini.ValidateRequest(body); err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := r.dispatcher.Proxy(req.Context(), dispatcher.Request{
		ModelID:   model,
		Body:      body,
		Streaming: streaming,
		ClientID:  clientIdentifier(req),
	})
	if err != nil {
		r.writeDispatchError(w, err)
		return
	}

	w.Header().Set("X-Request-Id", res.RequestID)
	if streaming {
		r.writeStream(w, res.Stream)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Response.Raw); err != nil {
		r.logger.Debug("Failed to write response", "request_id", res.RequestID, "error", err)
	}
}

// writeStream relays chunks as SSE `data:` events, flushing after each one.
// An upstream failure mid-stream is sent as a final event carrying the
// Google error object.
func (r *Router) writeStream(w http.ResponseWriter, stream *dispatcher.Stream) {
	defer stream.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for stream.Next() {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", stream.Chunk().Raw); err != nil {
			r.logger.Debug("Client went away mid-stream", "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			r.logger.Debug("Failed to flush stream chunk", "error", err)
			return
		}
	}

	var upErr *dispatcher.UpstreamError
	if errors.As(stream.Err(), &upErr) {
		status := upErr.Status
		if status == "" {
			status = statusForCode(upErr.StatusCode)
		}
		payload, _ := json.Marshal(APIErrorResponse{Error: APIError{
			Code:    upErr.StatusCode,
			Message: upErr.Message,
			Status:  status,
		}})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		_ = rc.Flush()
	}
}
