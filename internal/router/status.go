package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mixaill76/key_rotator/internal/models"
)

const (
	sseKeepAliveInterval = 15 * time.Second
	wsWriteTimeout       = 10 * time.Second
)

type statusesResponse struct {
	Statuses    map[string]models.KeyStatus `json:"statuses"`
	CoolingDown []string                    `json:"coolingDown"`
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	snap, err := r.stats.Snapshot(req.Context())
	if err != nil {
		r.logger.Error("Failed to build stats", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw), "")
			return
		}
		limit = n
	}

	rows, err := r.ledger.History(req.Context(), limit)
	if err != nil {
		r.logger.Error("Failed to read history", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if rows == nil {
		rows = []models.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (r *Router) handleStatuses(w http.ResponseWriter, req *http.Request) {
	cooling := r.cooldown.Active()
	if cooling == nil {
		cooling = []string{}
	}
	writeJSON(w, http.StatusOK, statusesResponse{
		Statuses:    r.hub.Statuses(),
		CoolingDown: cooling,
	})
}

// handleStatusStream relays hub events as named SSE events until the client
// disconnects or the hub shuts down.
func (r *Router) handleStatusStream(w http.ResponseWriter, req *http.Request) {
	rc := http.NewResponseController(w)
	sub := r.hub.Subscribe(req.Context())
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	_ = rc.Flush()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				r.logger.Error("Failed to encode status event", "event", ev.Name, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handleStatusWebSocket relays hub events as JSON text messages. Client
// messages are read and discarded so close frames are noticed.
func (r *Router) handleStatusWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("Failed to accept status websocket", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(req.Context())
	sub := r.hub.Subscribe(ctx)
	defer sub.Close()

	for ev := range sub.Events() {
		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(writeCtx, conn, ev)
		cancel()
		if err != nil {
			r.logger.Debug("Status websocket write failed", "error", err)
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
