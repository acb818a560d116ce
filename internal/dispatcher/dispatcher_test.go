package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/cooldown"
	"github.com/mixaill76/key_rotator/internal/gemini"
	"github.com/mixaill76/key_rotator/internal/keypool"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/mixaill76/key_rotator/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testModel   = "gemini-2.0-flash"
	testRequest = `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`
)

type recordedEvent struct {
	name    string
	payload any
}

// recordingPublisher keeps published events and status changes in one ordered log.
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{name: name, payload: payload})
}

func (p *recordingPublisher) SetStatus(credentialID string, status models.KeyStatus) {
	p.Publish("status:"+string(status), credentialID)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.name
	}
	return out
}

func (p *recordingPublisher) find(name string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type failingLedger struct {
	*ledger.MemoryLedger
}

func (failingLedger) Record(context.Context, models.UsageRecord) error {
	return errors.New("disk full")
}

type harness struct {
	d        *Dispatcher
	pool     *keypool.Pool
	ledger   *ledger.MemoryLedger
	pub      *recordingPublisher
	upstream *testhelpers.FakeUpstream
	cooldown *cooldown.Cooldown
	creds    []models.Credential
}

func newHarness(t *testing.T, handler http.HandlerFunc, mutate func(*Options), creds ...models.Credential) *harness {
	t.Helper()

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	clock := ledger.NewClock(loc)

	if len(creds) == 0 {
		creds = []models.Credential{
			testhelpers.NewTestCredential("a", "g1", 100),
			testhelpers.NewTestCredential("b", "g1", 100),
		}
	}

	h := &harness{
		ledger:   ledger.NewMemoryLedger(clock),
		pub:      &recordingPublisher{},
		upstream: testhelpers.NewFakeUpstream(t, handler),
		cooldown: cooldown.New(time.Minute, clock, nil),
		creds:    creds,
	}

	h.pool = keypool.New(h.ledger, 100)
	h.pool.SetSuppressor(h.cooldown)
	h.pool.Load("g1", creds)

	logger := testhelpers.NewTestLogger()
	opts := Options{
		Selector:       h.pool,
		Upstream:       gemini.NewClient(config.UpstreamConfig{BaseURL: h.upstream.URL(), APIVersion: "v1beta"}, logger),
		Ledger:         h.ledger,
		Publisher:      h.pub,
		Suppressor:     h.cooldown,
		Clock:          clock,
		RequestTimeout: 5 * time.Second,
		Logger:         logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.d = New(opts)
	return h
}

func (h *harness) history(t *testing.T) []models.UsageRecord {
	t.Helper()
	rows, err := h.ledger.History(context.Background(), 100)
	require.NoError(t, err)
	return rows
}

func request(streaming bool) Request {
	return Request{ModelID: testModel, Body: []byte(testRequest), Streaming: streaming, ClientID: "10.0.0.1"}
}

func TestProxy_Success(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusOK, testhelpers.GenerateResponseJSON("hello", 7, 3)), nil)

	res, err := h.d.Proxy(context.Background(), request(false))
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Nil(t, res.Stream)
	assert.Equal(t, "a", res.CredentialID)
	assert.Equal(t, "hello", res.Response.Parsed.Text())

	calls := h.upstream.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, h.creds[0].Secret, calls[0].APIKey)
	assert.Equal(t, "/v1beta/models/"+testModel+":generateContent", calls[0].Path)

	rows := h.history(t)
	require.Len(t, rows, 1)
	rec := rows[0]
	assert.Equal(t, res.RequestID, rec.RequestID)
	assert.Equal(t, "a", rec.CredentialID)
	assert.Equal(t, "g1", rec.GroupID)
	assert.Equal(t, "10.0.0.1", rec.ClientID)
	assert.Equal(t, models.UsageSuccess, rec.Status)
	require.NotNil(t, rec.TotalTokens)
	assert.Equal(t, 10, *rec.TotalTokens)
	assert.Nil(t, rec.ErrorCode)
	assert.Zero(t, rec.Timestamp.Nanosecond()%int(time.Microsecond), "timestamp fits the stored precision")

	assert.Equal(t, []string{
		models.EventKeyUsageStart,
		"status:pending",
		models.EventKeyUsageEnd,
		models.EventStatsUpdate,
		"status:idle",
	}, h.pub.names())

	start := h.pub.find(models.EventKeyUsageStart)[0].payload.(models.KeyUsageStartPayload)
	assert.Equal(t, res.RequestID, start.RequestID)
	assert.Equal(t, "a", start.CredentialID)

	end := h.pub.find(models.EventKeyUsageEnd)[0].payload.(models.UsageRecord)
	assert.Equal(t, rec.RequestID, end.RequestID)
}

func TestProxy_RoundRobinAcrossCalls(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusOK, testhelpers.GenerateResponseJSON("ok", 1, 1)), nil)

	var used []string
	for i := 0; i < 4; i++ {
		res, err := h.d.Proxy(context.Background(), request(false))
		require.NoError(t, err)
		used = append(used, res.CredentialID)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, used)
}

func TestProxy_QuotaErrorMarksExhausted(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusTooManyRequests,
		testhelpers.ErrorJSON(429, gemini.StatusResourceExhausted, "quota exceeded")), nil)

	_, err := h.d.Proxy(context.Background(), request(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamQuotaExceeded)
	assert.NotErrorIs(t, err, ErrUpstreamOther)
	assert.False(t, IsNoCapacity(err))

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusTooManyRequests, upErr.StatusCode)
	assert.Equal(t, "quota exceeded", upErr.Message)

	rows := h.history(t)
	require.Len(t, rows, 1)
	assert.Equal(t, models.UsageFailure, rows[0].Status)
	assert.Equal(t, "429", *rows[0].ErrorCode)
	assert.Equal(t, "quota exceeded", *rows[0].ErrorMessage)

	assert.Contains(t, h.pub.names(), "status:exhausted")
	assert.NotContains(t, h.pub.names(), "status:idle")
	assert.True(t, h.cooldown.IsCoolingDown("a"))

	h.upstream.SetHandler(testhelpers.JSONHandler(http.StatusOK, testhelpers.GenerateResponseJSON("ok", 1, 1)))
	for i := 0; i < 2; i++ {
		res, err := h.d.Proxy(context.Background(), request(false))
		require.NoError(t, err)
		assert.Equal(t, "b", res.CredentialID, "cooling key is skipped")
	}
}

func TestProxy_OtherUpstreamError(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusInternalServerError,
		testhelpers.ErrorJSON(500, "INTERNAL", "boom")), nil)

	_, err := h.d.Proxy(context.Background(), request(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamOther)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Equal(t, "INTERNAL", upErr.Status)

	rows := h.history(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "500", *rows[0].ErrorCode)
	assert.Contains(t, h.pub.names(), "status:idle")
	assert.False(t, h.cooldown.IsCoolingDown("a"))
}

func TestProxy_NoActiveGroup(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusOK, "{}"), nil)
	h.pool.Load("", h.creds)

	_, err := h.d.Proxy(context.Background(), request(false))
	assert.ErrorIs(t, err, ErrNoActiveGroup)
	assert.True(t, IsNoCapacity(err))
	assert.Empty(t, h.history(t))
	assert.Empty(t, h.pub.names())
	assert.Empty(t, h.upstream.Calls())
}

func TestProxy_AllCredentialsExhausted(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusOK, testhelpers.GenerateResponseJSON("ok", 1, 1)), nil,
		testhelpers.NewTestCredential("a", "g1", 1),
		testhelpers.NewTestCredential("b", "g1", 1),
	)

	for i := 0; i < 2; i++ {
		_, err := h.d.Proxy(context.Background(), request(false))
		require.NoError(t, err)
	}

	_, err := h.d.Proxy(context.Background(), request(false))
	assert.ErrorIs(t, err, ErrAllCredentialsExhausted)
	assert.True(t, IsNoCapacity(err))
	assert.Len(t, h.history(t), 2)
	assert.Len(t, h.upstream.Calls(), 2)
}

func TestProxy_Timeout(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	h := newHarness(t, slow, func(o *Options) { o.RequestTimeout = 50 * time.Millisecond })

	_, err := h.d.Proxy(context.Background(), request(false))
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusGatewayTimeout, upErr.StatusCode)

	rows := h.history(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "504", *rows[0].ErrorCode)
}

func TestProxy_LedgerFailureDoesNotFailCall(t *testing.T) {
	h := newHarness(t, testhelpers.JSONHandler(http.StatusOK, testhelpers.GenerateResponseJSON("ok", 1, 1)), func(o *Options) {
		o.Ledger = failingLedger{o.Ledger.(*ledger.MemoryLedger)}
	})

	res, err := h.d.Proxy(context.Background(), request(false))
	require.NoError(t, err)
	assert.NotNil(t, res.Response)
	assert.Len(t, h.pub.find(models.EventKeyUsageEnd), 1)
}

type fixedStats struct{ snap models.DashboardStats }

func (f fixedStats) Snapshot(context.Context) (models.DashboardStats, error) {
	return f.snap, nil
}

func TestProxy_StatsUpdateThroughQueue(t *testing.T) {
	queue := worker.NewQueue(context.Background(), 1, 16, testhelpers.NewTestLogger())
	snap := models.DashboardStats{ActiveGroup: "g1"}

	h := newHarness(t, testhelpers.JSONHandler(http.StatusOK, testhelpers.GenerateResponseJSON("ok", 1, 1)), func(o *Options) {
		o.Stats = fixedStats{snap: snap}
		o.StatsQueue = queue
	})

	for i := 0; i < 3; i++ {
		_, err := h.d.Proxy(context.Background(), request(false))
		require.NoError(t, err)
	}
	queue.Close()

	updates := h.pub.find(models.EventStatsUpdate)
	require.Len(t, updates, 3)
	assert.Equal(t, snap, updates[0].payload)
}

func TestNew_PanicsWithoutRequiredDeps(t *testing.T) {
	assert.Panics(t, func() { New(Options{}) })
}
