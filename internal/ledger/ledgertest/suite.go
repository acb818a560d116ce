// Package ledgertest holds a behavioral test suite shared by every ledger backend.
package ledgertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty ledger whose quota day is driven by clock.
type Factory func(t *testing.T, clock *ledger.Clock) ledger.Ledger

// FixedNow is the instant the suite's clock reports: 13:00 PDT on 2025-03-10.
var FixedNow = time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)

// NewClock returns a Los Angeles clock frozen at FixedNow.
func NewClock(t *testing.T) *ledger.Clock {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return ledger.NewClock(loc).WithNow(func() time.Time { return FixedNow })
}

// Record builds a successful record for credentialID at ts.
func Record(requestID, credentialID string, ts time.Time) models.UsageRecord {
	rec := models.UsageRecord{
		RequestID:    requestID,
		CredentialID: credentialID,
		GroupID:      "g1",
		ClientID:     "127.0.0.1",
		ModelID:      "gemini-2.0-flash",
		Status:       models.UsageSuccess,
		LatencyMs:    120,
		Timestamp:    ts,
	}
	rec.SetUsage(&models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	return rec
}

// Run executes every ledger contract test against the backend built by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newLedger) })
	t.Run("RoundTripClockTimestamp", func(t *testing.T) { testRoundTripClockTimestamp(t, newLedger) })
	t.Run("CountTodayBoundary", func(t *testing.T) { testCountTodayBoundary(t, newLedger) })
	t.Run("CountSince", func(t *testing.T) { testCountSince(t, newLedger) })
	t.Run("HistoryOrderAndLimit", func(t *testing.T) { testHistoryOrderAndLimit(t, newLedger) })
	t.Run("GlobalStatsWindow", func(t *testing.T) { testGlobalStatsWindow(t, newLedger) })
	t.Run("LastUsage", func(t *testing.T) { testLastUsage(t, newLedger) })
	t.Run("SweepRetentionKeepsLatest", func(t *testing.T) { testSweepRetention(t, newLedger) })
}

func testRoundTrip(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	l := newLedger(t, NewClock(t))

	ok := Record("req-ok", "k1", FixedNow.Add(-time.Minute).Add(123456*time.Microsecond))

	failed := models.UsageRecord{
		RequestID:    "req-fail",
		CredentialID: "k2",
		GroupID:      "g1",
		ClientID:     "10.0.0.2",
		ModelID:      "gemini-2.5-pro",
		Status:       models.UsageFailure,
		LatencyMs:    3400,
		Timestamp:    FixedNow.Add(-30 * time.Second),
	}
	failed.SetError("429", "Resource has been exhausted")

	require.NoError(t, l.Record(ctx, ok))
	require.NoError(t, l.Record(ctx, failed))

	rows, err := l.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	AssertRecordEqual(t, failed, rows[0])
	AssertRecordEqual(t, ok, rows[1])
}

// testRoundTripClockTimestamp records a row stamped by a clock whose source
// has nanosecond detail, as the dispatcher does, and reads it back unchanged.
func testRoundTripClockTimestamp(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	clock := NewClock(t).WithNow(func() time.Time {
		return FixedNow.Add(-time.Minute).Add(644771789 * time.Nanosecond)
	})
	l := newLedger(t, clock)

	rec := Record("req-clock", "k1", clock.Now())
	require.NoError(t, l.Record(ctx, rec))

	rows, err := l.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.True(t, rec.Timestamp.Equal(rows[0].Timestamp),
		"written=%s read=%s", rec.Timestamp.Format(time.RFC3339Nano), rows[0].Timestamp.Format(time.RFC3339Nano))
	AssertRecordEqual(t, rec, rows[0])
}

func testCountTodayBoundary(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	clock := NewClock(t)
	l := newLedger(t, clock)

	start := clock.StartOfDay()
	require.Equal(t, time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC), start)

	require.NoError(t, l.Record(ctx, Record("before", "k1", start.Add(-time.Microsecond))))
	require.NoError(t, l.Record(ctx, Record("at", "k1", start)))
	require.NoError(t, l.Record(ctx, Record("after", "k1", start.Add(time.Microsecond))))
	require.NoError(t, l.Record(ctx, Record("other", "k2", start.Add(time.Hour))))

	failed := Record("failed", "k1", start.Add(time.Hour))
	failed.Status = models.UsageFailure
	require.NoError(t, l.Record(ctx, failed))

	count, err := l.CountToday(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "attempts at or after local midnight count, failures included")

	count, err = l.CountToday(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func testCountSince(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	l := newLedger(t, NewClock(t))

	since := FixedNow.Add(-time.Hour)
	require.NoError(t, l.Record(ctx, Record("old", "k1", since.Add(-time.Second))))
	require.NoError(t, l.Record(ctx, Record("new1", "k1", since)))
	require.NoError(t, l.Record(ctx, Record("new2", "k2", since.Add(time.Minute))))

	count, err := l.CountSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func testHistoryOrderAndLimit(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	l := newLedger(t, NewClock(t))

	for i := 0; i < 5; i++ {
		ts := FixedNow.Add(-time.Duration(5-i) * time.Minute)
		require.NoError(t, l.Record(ctx, Record(fmt.Sprintf("req-%d", i), "k1", ts)))
	}

	rows, err := l.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "req-4", rows[0].RequestID)
	assert.Equal(t, "req-3", rows[1].RequestID)
	assert.Equal(t, "req-2", rows[2].RequestID)

	rows, err = l.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 5, "non-positive limit falls back to the default")
}

func testGlobalStatsWindow(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	l := newLedger(t, NewClock(t))

	require.NoError(t, l.Record(ctx, Record("in1", "k1", FixedNow.Add(-time.Hour))))
	require.NoError(t, l.Record(ctx, Record("in2", "k2", FixedNow.Add(-23*time.Hour))))
	require.NoError(t, l.Record(ctx, Record("out", "k1", FixedNow.Add(-25*time.Hour))))

	noTokens := Record("in3", "k1", FixedNow.Add(-time.Minute))
	noTokens.PromptTokens, noTokens.CompletionTokens, noTokens.TotalTokens = nil, nil, nil
	noTokens.Status = models.UsageFailure
	require.NoError(t, l.Record(ctx, noTokens))

	stats, err := l.GlobalStats(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 24, stats.WindowHours)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 20, stats.TotalInputTokens)
	assert.Equal(t, 10, stats.TotalOutputTokens)
	assert.Equal(t, 30, stats.TotalTokens)

	empty, err := newLedger(t, NewClock(t)).GlobalStats(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalRequests)
}

func testLastUsage(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	l := newLedger(t, NewClock(t))

	require.NoError(t, l.Record(ctx, Record("a1", "k1", FixedNow.Add(-3*time.Hour))))
	require.NoError(t, l.Record(ctx, Record("a2", "k1", FixedNow.Add(-time.Hour))))
	require.NoError(t, l.Record(ctx, Record("b1", "k2", FixedNow.Add(-2*time.Hour))))

	last, err := l.LastUsage(ctx)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "a2", last["k1"].RequestID)
	assert.Equal(t, "b1", last["k2"].RequestID)
}

func testSweepRetention(t *testing.T, newLedger Factory) {
	ctx := context.Background()
	l := newLedger(t, NewClock(t))

	// k1: two old rows and one recent; k2: only old rows; k3: a single old row
	require.NoError(t, l.Record(ctx, Record("k1-old1", "k1", FixedNow.Add(-72*time.Hour))))
	require.NoError(t, l.Record(ctx, Record("k1-old2", "k1", FixedNow.Add(-48*time.Hour))))
	require.NoError(t, l.Record(ctx, Record("k1-new", "k1", FixedNow.Add(-time.Hour))))
	require.NoError(t, l.Record(ctx, Record("k2-old1", "k2", FixedNow.Add(-96*time.Hour))))
	require.NoError(t, l.Record(ctx, Record("k2-old2", "k2", FixedNow.Add(-30*time.Hour))))
	require.NoError(t, l.Record(ctx, Record("k3-old", "k3", FixedNow.Add(-200*time.Hour))))

	deleted, err := l.SweepRetention(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	rows, err := l.History(ctx, 100)
	require.NoError(t, err)

	var ids []string
	for _, r := range rows {
		ids = append(ids, r.RequestID)
	}
	assert.ElementsMatch(t, []string{"k1-new", "k2-old2", "k3-old"}, ids)

	deleted, err = l.SweepRetention(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "second sweep is a no-op")
}

// AssertRecordEqual compares two usage records field by field, using
// time.Equal for the timestamp.
func AssertRecordEqual(t *testing.T, want, got models.UsageRecord) {
	t.Helper()
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp: want %s, got %s", want.Timestamp, got.Timestamp)
	want.Timestamp, got.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, want, got)
}
