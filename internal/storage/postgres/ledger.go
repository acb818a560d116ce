package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
)

var _ ledger.Ledger = (*Ledger)(nil)

const usageColumns = `request_id, api_key_id, key_group_id, client_identifier, model_id, status,
	latency_ms, prompt_tokens, completion_tokens, total_tokens, timestamp, error_code, error_message`

const queryInsertUsage = `INSERT INTO usage_records (` + usageColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const queryCountToday = `SELECT COUNT(*) FROM usage_records WHERE api_key_id = $1 AND timestamp >= $2`

const queryCountSince = `SELECT COUNT(*) FROM usage_records WHERE timestamp >= $1`

const queryHistory = `SELECT ` + usageColumns + ` FROM usage_records ORDER BY timestamp DESC, id DESC LIMIT $1`

const queryGlobalStats = `SELECT COUNT(*),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0)
	FROM usage_records WHERE timestamp >= $1`

const queryRankedUsage = `SELECT ` + usageColumns + `, ROW_NUMBER() OVER (PARTITION BY api_key_id ORDER BY timestamp DESC, id DESC) AS rn
	FROM usage_records`

const queryLastUsage = `SELECT ` + usageColumns + ` FROM (` + queryRankedUsage + `) ranked WHERE rn = 1`

const querySweepRetention = `DELETE FROM usage_records
	WHERE timestamp < $1
	AND id NOT IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY api_key_id ORDER BY timestamp DESC, id DESC) AS rn
			FROM usage_records
		) ranked WHERE rn = 1
	)`

// Ledger is the PostgreSQL implementation of ledger.Ledger.
type Ledger struct {
	pool  *Pool
	clock *ledger.Clock
}

// NewLedger creates a ledger over pool whose quota day follows clock.
func NewLedger(pool *Pool, clock *ledger.Clock) *Ledger {
	return &Ledger{pool: pool, clock: clock}
}

func (l *Ledger) Record(ctx context.Context, rec models.UsageRecord) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, queryInsertUsage,
		rec.RequestID,
		rec.CredentialID,
		rec.GroupID,
		rec.ClientID,
		rec.ModelID,
		string(rec.Status),
		rec.LatencyMs,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.Timestamp.UTC(),
		rec.ErrorCode,
		rec.ErrorMessage,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("usage record %q: %w", rec.RequestID, models.ErrDuplicate)
		}
		return fmt.Errorf("insert usage record %q: %w", rec.RequestID, err)
	}
	return nil
}

func (l *Ledger) CountToday(ctx context.Context, credentialID string) (int, error) {
	var count int
	if err := l.queryRow(ctx, queryCountToday, []any{credentialID, l.clock.StartOfDay()}, &count); err != nil {
		return 0, fmt.Errorf("count today for %q: %w", credentialID, err)
	}
	return count, nil
}

func (l *Ledger) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	if err := l.queryRow(ctx, queryCountSince, []any{since.UTC()}, &count); err != nil {
		return 0, fmt.Errorf("count since %s: %w", since, err)
	}
	return count, nil
}

func (l *Ledger) History(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	return l.queryUsage(ctx, queryHistory, ledger.ClampLimit(limit))
}

func (l *Ledger) GlobalStats(ctx context.Context, windowHours int) (models.GlobalStats, error) {
	since := l.clock.Now().Add(-time.Duration(windowHours) * time.Hour)
	stats := models.GlobalStats{WindowHours: windowHours}

	err := l.queryRow(ctx, queryGlobalStats, []any{since},
		&stats.TotalRequests,
		&stats.TotalInputTokens,
		&stats.TotalOutputTokens,
		&stats.TotalTokens,
	)
	if err != nil {
		return models.GlobalStats{}, fmt.Errorf("global stats: %w", err)
	}
	return stats, nil
}

func (l *Ledger) LastUsage(ctx context.Context) (map[string]models.UsageRecord, error) {
	rows, err := l.queryUsage(ctx, queryLastUsage)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.UsageRecord, len(rows))
	for _, r := range rows {
		out[r.CredentialID] = r
	}
	return out, nil
}

func (l *Ledger) SweepRetention(ctx context.Context, maxAgeHours int) (int64, error) {
	cutoff := l.clock.Now().Add(-time.Duration(maxAgeHours) * time.Hour)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, querySweepRetention, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep retention: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (l *Ledger) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return conn.QueryRow(ctx, query, args...).Scan(dest...)
}

func (l *Ledger) queryUsage(ctx context.Context, query string, args ...any) ([]models.UsageRecord, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}

	return pgx.CollectRows(rows, scanUsage)
}

func scanUsage(row pgx.CollectableRow) (models.UsageRecord, error) {
	var (
		rec    models.UsageRecord
		status string
	)
	err := row.Scan(
		&rec.RequestID,
		&rec.CredentialID,
		&rec.GroupID,
		&rec.ClientID,
		&rec.ModelID,
		&status,
		&rec.LatencyMs,
		&rec.PromptTokens,
		&rec.CompletionTokens,
		&rec.TotalTokens,
		&rec.Timestamp,
		&rec.ErrorCode,
		&rec.ErrorMessage,
	)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("scan usage record: %w", err)
	}
	rec.Status = models.UsageStatus(status)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}
