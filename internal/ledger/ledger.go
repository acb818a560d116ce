// Package ledger defines the durable usage log consulted for daily quotas,
// along with the quota-day clock and the retention sweeper.
package ledger

import (
	"context"
	"time"

	"github.com/mixaill76/key_rotator/internal/models"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 100

// MaxHistoryLimit caps a single History read.
const MaxHistoryLimit = 1000

// Ledger is an append-only store of proxied call outcomes.
// Implementations live in internal/storage.
type Ledger interface {
	// Record appends one row. Existing rows are never modified.
	Record(ctx context.Context, rec models.UsageRecord) error

	// CountToday counts every row for credentialID at or after the start of
	// the current quota day.
	CountToday(ctx context.Context, credentialID string) (int, error)

	// CountSince counts rows across all credentials at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)

	// History returns the most recent rows, newest first.
	History(ctx context.Context, limit int) ([]models.UsageRecord, error)

	// GlobalStats aggregates requests and tokens over the trailing window.
	GlobalStats(ctx context.Context, windowHours int) (models.GlobalStats, error)

	// LastUsage returns the newest row per credential id.
	LastUsage(ctx context.Context) (map[string]models.UsageRecord, error)

	// SweepRetention deletes rows older than maxAgeHours except the newest
	// row of each credential, returning the number of deleted rows.
	SweepRetention(ctx context.Context, maxAgeHours int) (int64, error)
}

// ClampLimit normalizes a History limit into [1, MaxHistoryLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
