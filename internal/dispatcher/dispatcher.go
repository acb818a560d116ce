// Package dispatcher runs one proxied generateContent call: it picks a
// credential, reports it in flight, calls the upstream and finalizes the
// outcome into the ledger and the status hub exactly once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mixaill76/key_rotator/internal/gemini"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/monitoring"
	"github.com/mixaill76/key_rotator/internal/worker"
)

// ledgerWriteTimeout bounds the synchronous append at finalization.
const ledgerWriteTimeout = 5 * time.Second

// Selector hands out credentials of the active group.
type Selector interface {
	ActiveGroup() string
	NextAvailable(ctx context.Context, groupID string) (*models.Credential, error)
}

// Upstream is the generative service.
type Upstream interface {
	Generate(ctx context.Context, secret, model string, body []byte) (*gemini.Response, error)
	GenerateStream(ctx context.Context, secret, model string, body []byte) (*gemini.StreamReader, error)
}

// Publisher receives status events and runtime state transitions.
type Publisher interface {
	Publish(name string, payload any)
	SetStatus(credentialID string, status models.KeyStatus)
}

// Suppressor is told about credentials that hit an upstream quota error.
type Suppressor interface {
	Mark(credentialID string)
}

// StatsSource builds the payload of stats_update events.
type StatsSource interface {
	Snapshot(ctx context.Context) (models.DashboardStats, error)
}

// Options wires a Dispatcher. Selector, Upstream, Ledger and Publisher are
// required; the rest may be nil.
type Options struct {
	Selector       Selector
	Upstream       Upstream
	Ledger         ledger.Ledger
	Publisher      Publisher
	Suppressor     Suppressor
	Stats          StatsSource
	StatsQueue     *worker.Queue
	Clock          *ledger.Clock
	RequestTimeout time.Duration
	Metrics        *monitoring.Metrics
	Logger         *slog.Logger
}

type Dispatcher struct {
	selector       Selector
	upstream       Upstream
	ledger         ledger.Ledger
	publisher      Publisher
	suppressor     Suppressor
	stats          StatsSource
	statsQueue     *worker.Queue
	clock          *ledger.Clock
	requestTimeout time.Duration
	metrics        *monitoring.Metrics
	logger         *slog.Logger
	newID          func() string
}

func New(opts Options) *Dispatcher {
	if opts.Selector == nil || opts.Upstream == nil || opts.Ledger == nil || opts.Publisher == nil {
		panic("dispatcher.New: selector, upstream, ledger and publisher are required")
	}
	if opts.Clock == nil {
		opts.Clock = ledger.NewClock(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{
		selector:       opts.Selector,
		upstream:       opts.Upstream,
		ledger:         opts.Ledger,
		publisher:      opts.Publisher,
		suppressor:     opts.Suppressor,
		stats:          opts.Stats,
		statsQueue:     opts.StatsQueue,
		clock:          opts.Clock,
		requestTimeout: opts.RequestTimeout,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		newID:          uuid.NewString,
	}
}

// Request is one inbound proxied call.
type Request struct {
	ModelID   string
	Body      []byte
	Streaming bool
	ClientID  string
}

// Result carries either Response (non-streaming) or Stream (streaming).
type Result struct {
	RequestID    string
	CredentialID string
	Response     *gemini.Response
	Stream       *Stream
}

// Proxy dispatches req on the next available credential of the active group.
// Capacity failures (see IsNoCapacity) happen before any credential is used
// and write no usage record. Every other outcome writes exactly one.
//
// A streaming Result must be drained or closed by the caller; the record is
// written when that happens.
func (d *Dispatcher) Proxy(ctx context.Context, req Request) (*Result, error) {
	groupID := d.selector.ActiveGroup()
	if groupID == "" {
		d.metrics.RecordNoCapacity("no_active_group")
		return nil, ErrNoActiveGroup
	}

	cred, err := d.selector.NextAvailable(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrNoActiveGroup) {
			d.metrics.RecordNoCapacity("no_active_group")
			return nil, err
		}
		return nil, fmt.Errorf("select credential: %w", err)
	}
	if cred == nil {
		d.metrics.RecordNoCapacity("exhausted")
		d.logger.Warn("No credential available",
			"group_id", groupID,
			"model", req.ModelID,
		)
		return nil, ErrAllCredentialsExhausted
	}

	c := d.begin(req, cred, groupID)

	if req.Streaming {
		return d.stream(ctx, c)
	}
	return d.generate(ctx, c)
}

func (d *Dispatcher) generate(ctx context.Context, c *call) (*Result, error) {
	callCtx := ctx
	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	resp, err := d.upstream.Generate(callCtx, c.cred.Secret, c.req.ModelID, c.req.Body)
	if err != nil {
		upErr := toUpstreamError(err)
		c.finish(ctx, nil, upErr)
		return nil, upErr
	}

	c.finish(ctx, gemini.UsageFromMetadata(resp.Usage()), nil)
	return &Result{
		RequestID:    c.requestID,
		CredentialID: c.cred.ID,
		Response:     resp,
	}, nil
}

func (d *Dispatcher) stream(ctx context.Context, c *call) (*Result, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	reader, err := d.upstream.GenerateStream(streamCtx, c.cred.Secret, c.req.ModelID, c.req.Body)
	if err != nil {
		cancel()
		upErr := toUpstreamError(err)
		c.finish(ctx, nil, upErr)
		return nil, upErr
	}

	return &Result{
		RequestID:    c.requestID,
		CredentialID: c.cred.ID,
		Stream:       newStream(ctx, c, reader, cancel),
	}, nil
}

// begin announces the selected credential before the upstream call.
func (d *Dispatcher) begin(req Request, cred *models.Credential, groupID string) *call {
	c := &call{
		d:         d,
		requestID: d.newID(),
		req:       req,
		cred:      *cred,
		groupID:   groupID,
		startedAt: d.clock.Now(),
		began:     time.Now(),
	}

	d.publisher.Publish(models.EventKeyUsageStart, models.KeyUsageStartPayload{
		RequestID:    c.requestID,
		CredentialID: cred.ID,
		GroupID:      groupID,
		ModelID:      req.ModelID,
		Streaming:    req.Streaming,
	})
	d.publisher.SetStatus(cred.ID, models.KeyPending)

	d.logger.Debug("Dispatching request",
		"request_id", c.requestID,
		"credential", &c.cred,
		"model", req.ModelID,
		"streaming", req.Streaming,
	)
	return c
}

// call is the bookkeeping of one dispatched request.
type call struct {
	d         *Dispatcher
	requestID string
	req       Request
	cred      models.Credential
	groupID   string
	startedAt time.Time
	began     time.Time
	once      sync.Once
}

// finish writes the usage record and publishes the terminal events. Only the
// first call has any effect.
func (c *call) finish(ctx context.Context, usage *models.TokenUsage, upErr *UpstreamError) {
	c.once.Do(func() {
		c.d.finalize(ctx, c, usage, upErr)
	})
}

func (d *Dispatcher) finalize(ctx context.Context, c *call, usage *models.TokenUsage, upErr *UpstreamError) {
	elapsed := time.Since(c.began)

	rec := models.UsageRecord{
		RequestID:    c.requestID,
		CredentialID: c.cred.ID,
		GroupID:      c.groupID,
		ClientID:     c.req.ClientID,
		ModelID:      c.req.ModelID,
		Status:       models.UsageSuccess,
		LatencyMs:    elapsed.Milliseconds(),
		Timestamp:    c.startedAt,
	}
	rec.SetUsage(usage)
	if upErr != nil {
		rec.Status = models.UsageFailure
		rec.SetError(upErr.Code(), upErr.Message)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	if err := d.ledger.Record(writeCtx, rec); err != nil {
		d.metrics.RecordLedgerWriteFailure()
		d.logger.Error("Failed to record usage",
			"request_id", rec.RequestID,
			"credential_id", rec.CredentialID,
			"error", err,
		)
	}
	cancel()

	d.publisher.Publish(models.EventKeyUsageEnd, rec)
	d.queueStatsUpdate()

	switch {
	case upErr != nil && upErr.QuotaExceeded:
		d.publisher.SetStatus(c.cred.ID, models.KeyExhausted)
		if d.suppressor != nil {
			d.suppressor.Mark(c.cred.ID)
		}
		d.logger.Warn("Credential quota exceeded upstream",
			"credential", &c.cred,
			"model", c.req.ModelID,
			"message", upErr.Message,
		)
	default:
		d.publisher.SetStatus(c.cred.ID, models.KeyIdle)
	}

	d.metrics.RecordRequest(c.cred.ID, c.req.ModelID, string(rec.Status), c.req.Streaming, elapsed)
	if usage != nil {
		d.metrics.RecordTokens(c.cred.ID, usage.PromptTokens, usage.CompletionTokens)
	}

	if upErr != nil {
		d.logger.Info("Request failed",
			"request_id", rec.RequestID,
			"credential_id", rec.CredentialID,
			"model", rec.ModelID,
			"code", *rec.ErrorCode,
			"latency_ms", rec.LatencyMs,
		)
		return
	}
	d.logger.Debug("Request completed",
		"request_id", rec.RequestID,
		"credential_id", rec.CredentialID,
		"model", rec.ModelID,
		"latency_ms", rec.LatencyMs,
	)
}

// queueStatsUpdate publishes a fresh dashboard snapshot off the request path.
// A single-worker queue keeps stats events in finalization order.
func (d *Dispatcher) queueStatsUpdate() {
	if d.stats == nil {
		d.publisher.Publish(models.EventStatsUpdate, nil)
		return
	}

	job := worker.JobFunc(func(ctx context.Context) error {
		snap, err := d.stats.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("stats snapshot: %w", err)
		}
		d.publisher.Publish(models.EventStatsUpdate, snap)
		return nil
	})

	if d.statsQueue == nil {
		if err := job(context.Background()); err != nil {
			d.logger.Error("Failed to publish stats update", "error", err)
		}
		return
	}
	d.statsQueue.Submit(job)
}
