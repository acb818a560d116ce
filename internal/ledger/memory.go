package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mixaill76/key_rotator/internal/models"
)

// MemoryLedger keeps rows in process memory. It backs the "memory" storage
// driver and tests; nothing survives a restart.
type MemoryLedger struct {
	mu    sync.RWMutex
	clock *Clock
	rows  []models.UsageRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(clock *Clock) *MemoryLedger {
	return &MemoryLedger{clock: clock}
}

func (m *MemoryLedger) Record(_ context.Context, rec models.UsageRecord) error {
	rec.Timestamp = rec.Timestamp.UTC()
	m.mu.Lock()
	m.rows = append(m.rows, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) CountToday(_ context.Context, credentialID string) (int, error) {
	start := m.clock.StartOfDay()

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.rows {
		if r.CredentialID == credentialID && !r.Timestamp.Before(start) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryLedger) CountSince(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.rows {
		if !r.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryLedger) History(_ context.Context, limit int) ([]models.UsageRecord, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	out := make([]models.UsageRecord, len(m.rows))
	copy(out, m.rows)
	m.mu.RUnlock()

	// newest first; later inserts win ties
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) GlobalStats(_ context.Context, windowHours int) (models.GlobalStats, error) {
	since := m.clock.Now().Add(-time.Duration(windowHours) * time.Hour)
	stats := models.GlobalStats{WindowHours: windowHours}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rows {
		if r.Timestamp.Before(since) {
			continue
		}
		stats.TotalRequests++
		if r.PromptTokens != nil {
			stats.TotalInputTokens += *r.PromptTokens
		}
		if r.CompletionTokens != nil {
			stats.TotalOutputTokens += *r.CompletionTokens
		}
		if r.TotalTokens != nil {
			stats.TotalTokens += *r.TotalTokens
		}
	}
	return stats, nil
}

func (m *MemoryLedger) LastUsage(_ context.Context) (map[string]models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.latestLocked(), nil
}

func (m *MemoryLedger) SweepRetention(_ context.Context, maxAgeHours int) (int64, error) {
	cutoff := m.clock.Now().Add(-time.Duration(maxAgeHours) * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	latest := m.latestIndexLocked()
	kept := m.rows[:0]
	var deleted int64
	for i, r := range m.rows {
		if r.Timestamp.Before(cutoff) && latest[r.CredentialID] != i {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return deleted, nil
}

// latestIndexLocked maps each credential id to the index of its newest row.
func (m *MemoryLedger) latestIndexLocked() map[string]int {
	idx := make(map[string]int)
	for i, r := range m.rows {
		cur, ok := idx[r.CredentialID]
		if !ok || !r.Timestamp.Before(m.rows[cur].Timestamp) {
			idx[r.CredentialID] = i
		}
	}
	return idx
}

func (m *MemoryLedger) latestLocked() map[string]models.UsageRecord {
	out := make(map[string]models.UsageRecord)
	for id, i := range m.latestIndexLocked() {
		out[id] = m.rows[i]
	}
	return out
}
