package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/utils"
)

// Compile-time interface satisfaction check.
var _ ledger.Ledger = (*Ledger)(nil)

const usageColumns = `request_id, api_key_id, key_group_id, client_identifier, model_id, status,
	latency_ms, prompt_tokens, completion_tokens, total_tokens, timestamp, error_code, error_message`

// latestPerKey selects the id of the newest row of every credential.
const latestPerKey = `SELECT id FROM (
	SELECT id, ROW_NUMBER() OVER (PARTITION BY api_key_id ORDER BY timestamp DESC, id DESC) AS rn
	FROM usage_records
) WHERE rn = 1`

// Ledger is the SQLite implementation of ledger.Ledger.
// Timestamps are stored as fixed-width UTC text (utils.TimestampLayout).
type Ledger struct {
	db    *DB
	clock *ledger.Clock
}

// NewLedger creates a ledger over db whose quota day follows clock.
func NewLedger(db *DB, clock *ledger.Clock) *Ledger {
	return &Ledger{db: db, clock: clock}
}

// Record appends rec through the single writer connection.
func (l *Ledger) Record(ctx context.Context, rec models.UsageRecord) error {
	const query = `INSERT INTO usage_records (` + usageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.Writer.ExecContext(ctx, query,
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
		utils.FormatTimestamp(rec.Timestamp),
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

// CountToday counts rows for credentialID since the start of the quota day.
func (l *Ledger) CountToday(ctx context.Context, credentialID string) (int, error) {
	const query = `SELECT COUNT(*) FROM usage_records WHERE api_key_id = ? AND timestamp >= ?`

	var count int
	err := l.db.Reader.QueryRowContext(ctx, query, credentialID, utils.FormatTimestamp(l.clock.StartOfDay())).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count today for %q: %w", credentialID, err)
	}
	return count, nil
}

// CountSince counts rows across all credentials at or after since.
func (l *Ledger) CountSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM usage_records WHERE timestamp >= ?`

	var count int
	if err := l.db.Reader.QueryRowContext(ctx, query, utils.FormatTimestamp(since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count since %s: %w", since, err)
	}
	return count, nil
}

// History returns up to limit rows, newest first.
func (l *Ledger) History(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := l.db.Reader.QueryContext(ctx, query, ledger.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanUsageRows(rows)
}

// GlobalStats sums requests and tokens over the trailing window.
func (l *Ledger) GlobalStats(ctx context.Context, windowHours int) (models.GlobalStats, error) {
	const query = `SELECT COUNT(*),
		COALESCE(SUM(prompt_tokens), 0),
		COALESCE(SUM(completion_tokens), 0),
		COALESCE(SUM(total_tokens), 0)
		FROM usage_records WHERE timestamp >= ?`

	since := l.clock.Now().Add(-time.Duration(windowHours) * time.Hour)
	stats := models.GlobalStats{WindowHours: windowHours}

	err := l.db.Reader.QueryRowContext(ctx, query, utils.FormatTimestamp(since)).Scan(
		&stats.TotalRequests,
		&stats.TotalInputTokens,
		&stats.TotalOutputTokens,
		&stats.TotalTokens,
	)
	if err != nil {
		return models.GlobalStats{}, fmt.Errorf("query global stats: %w", err)
	}
	return stats, nil
}

// LastUsage returns the newest row for every credential that has one.
func (l *Ledger) LastUsage(ctx context.Context) (map[string]models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE id IN (` + latestPerKey + `)`

	rows, err := l.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query last usage: %w", err)
	}
	defer rows.Close()

	records, err := scanUsageRows(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.UsageRecord, len(records))
	for _, r := range records {
		out[r.CredentialID] = r
	}
	return out, nil
}

// SweepRetention deletes rows older than maxAgeHours, keeping the newest row per credential.
func (l *Ledger) SweepRetention(ctx context.Context, maxAgeHours int) (int64, error) {
	query := `DELETE FROM usage_records WHERE timestamp < ? AND id NOT IN (` + latestPerKey + `)`

	cutoff := l.clock.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	res, err := l.db.Writer.ExecContext(ctx, query, utils.FormatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweep retention: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep retention rows affected: %w", err)
	}
	return deleted, nil
}

func scanUsageRows(rows *sql.Rows) ([]models.UsageRecord, error) {
	var out []models.UsageRecord
	for rows.Next() {
		var (
			rec                       models.UsageRecord
			status, ts                string
			prompt, completion, total sql.NullInt64
			errorCode, errorMessage   sql.NullString
		)
		if err := rows.Scan(
			&rec.RequestID,
			&rec.CredentialID,
			&rec.GroupID,
			&rec.ClientID,
			&rec.ModelID,
			&status,
			&rec.LatencyMs,
			&prompt,
			&completion,
			&total,
			&ts,
			&errorCode,
			&errorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}

		parsed, err := utils.ParseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of %q: %w", rec.RequestID, err)
		}
		rec.Timestamp = parsed
		rec.Status = models.UsageStatus(status)
		rec.PromptTokens = nullIntPtr(prompt)
		rec.CompletionTokens = nullIntPtr(completion)
		rec.TotalTokens = nullIntPtr(total)
		rec.ErrorCode = nullStringPtr(errorCode)
		rec.ErrorMessage = nullStringPtr(errorMessage)

		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}
	return out, nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
