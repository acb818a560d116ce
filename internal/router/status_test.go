package router

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStream_SSE(t *testing.T) {
	env := newTestEnv(t, okHandler())
	env.addKey(t, map[string]any{"apiKey": "AIzaPrimarySecret0001"})

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/admin/status-stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	w := env.do(http.MethodPost, generatePath, testhelpers.GenerateRequestBody("hi"))
	require.Equal(t, http.StatusOK, w.Code)

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
			if name == models.EventKeyUsageEnd {
				break
			}
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{
		models.EventKeyUsageStart,
		models.EventKeyStatusUpdate,
		models.EventKeyUsageEnd,
	}, events)
}

func TestStatusStream_WebSocket(t *testing.T) {
	env := newTestEnv(t, okHandler())
	env.addKey(t, map[string]any{"apiKey": "AIzaPrimarySecret0001"})

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/admin/status-ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return env.hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	w := env.do(http.MethodPost, generatePath, testhelpers.GenerateRequestBody("hi"))
	require.Equal(t, http.StatusOK, w.Code)

	var first struct {
		Event string                      `json:"event"`
		Data  models.KeyUsageStartPayload `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, models.EventKeyUsageStart, first.Event)
	assert.Equal(t, "gemini-2.0-flash", first.Data.ModelID)
	assert.Equal(t, w.Header().Get("X-Request-Id"), first.Data.RequestID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return env.hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
