package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_rotator_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"credential", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "key_rotator_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"credential", "model", "streaming"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_rotator_tokens_total",
			Help: "Total tokens reported by the upstream",
		},
		[]string{"credential", "kind"},
	)

	CredentialSelectionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_rotator_credential_selection_rejected_total",
			Help: "Total number of times a credential was rejected during selection",
		},
		[]string{"reason"},
	)

	NoCapacityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_rotator_no_capacity_total",
			Help: "Requests rejected because no credential could serve them",
		},
		[]string{"reason"},
	)

	CredentialCooldown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "key_rotator_credential_cooldown",
			Help: "Quota cooldown status for each credential (1 = cooling down, 0 = active)",
		},
		[]string{"credential"},
	)

	LedgerWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "key_rotator_ledger_write_failures_total",
			Help: "Usage records that could not be persisted",
		},
	)

	RetentionDeletedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "key_rotator_retention_deleted_rows_total",
			Help: "Ledger rows removed by the retention sweep",
		},
	)

	StatusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "key_rotator_status_subscribers",
			Help: "Currently connected status stream subscribers",
		},
	)

	StatusEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "key_rotator_status_events_dropped_total",
			Help: "Status events dropped because a subscriber was too slow",
		},
	)
)

// Metrics gates metric updates behind the prometheus_enabled setting.
type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) RecordRequest(credential, model, status string, streaming bool, duration time.Duration) {
	if !m.isEnabled() {
		return
	}

	RequestsTotal.WithLabelValues(credential, model, status).Inc()
	streamLabel := "false"
	if streaming {
		streamLabel = "true"
	}
	RequestDuration.WithLabelValues(credential, model, streamLabel).Observe(duration.Seconds())
}

func (m *Metrics) RecordTokens(credential string, prompt, completion int) {
	if !m.isEnabled() {
		return
	}
	if prompt > 0 {
		TokensTotal.WithLabelValues(credential, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		TokensTotal.WithLabelValues(credential, "completion").Add(float64(completion))
	}
}

func (m *Metrics) RecordSelectionRejected(reason string) {
	if !m.isEnabled() {
		return
	}
	CredentialSelectionRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordNoCapacity(reason string) {
	if !m.isEnabled() {
		return
	}
	NoCapacityTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) UpdateCredentialCooldown(credential string, coolingDown bool) {
	if !m.isEnabled() {
		return
	}
	value := 0.0
	if coolingDown {
		value = 1.0
	}
	CredentialCooldown.WithLabelValues(credential).Set(value)
}

func (m *Metrics) RecordLedgerWriteFailure() {
	if !m.isEnabled() {
		return
	}
	LedgerWriteFailures.Inc()
}

func (m *Metrics) RecordRetentionSweep(deleted int64) {
	if !m.isEnabled() || deleted <= 0 {
		return
	}
	RetentionDeletedRows.Add(float64(deleted))
}

func (m *Metrics) SetStatusSubscribers(n int) {
	if !m.isEnabled() {
		return
	}
	StatusSubscribers.Set(float64(n))
}

func (m *Metrics) RecordStatusEventDropped() {
	if !m.isEnabled() {
		return
	}
	StatusEventsDropped.Inc()
}
