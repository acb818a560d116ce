// Package keypool holds the in-memory registry of enabled credentials and
// hands them out round-robin under their daily quotas.
package keypool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/monitoring"
)

var ErrNoActiveGroup = errors.New("no active key group configured")

// UsageCounter reports how many calls a credential has made in the current quota day.
type UsageCounter interface {
	CountToday(ctx context.Context, credentialID string) (int, error)
}

// Suppressor reports credentials that must be skipped regardless of their count.
type Suppressor interface {
	IsCoolingDown(credentialID string) bool
}

// Rejection reasons reported to monitoring.
const (
	reasonQuotaExhausted = "quota_exhausted"
	reasonCooldown       = "cooldown"
	reasonLedgerError    = "ledger_error"
)

type Pool struct {
	mu           sync.Mutex
	activeGroup  string
	groups       map[string][]models.Credential
	byID         map[string]models.Credential
	cursors      map[string]int
	counter      UsageCounter
	suppressor   Suppressor
	defaultQuota int
	metrics      *monitoring.Metrics
	logger       *slog.Logger
}

// New creates an empty pool. Credentials whose DailyQuota is unset fall back to defaultQuota.
func New(counter UsageCounter, defaultQuota int) *Pool {
	if counter == nil {
		panic("keypool.New: counter must not be nil")
	}
	if defaultQuota <= 0 {
		defaultQuota = models.DefaultDailyQuota
	}

	return &Pool{
		groups:       make(map[string][]models.Credential),
		byID:         make(map[string]models.Credential),
		cursors:      make(map[string]int),
		counter:      counter,
		defaultQuota: defaultQuota,
		logger:       slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// SetLogger sets the logger for the pool
func (p *Pool) SetLogger(logger *slog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetMetrics sets the metrics sink for selection rejections
func (p *Pool) SetMetrics(m *monitoring.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// SetSuppressor sets the cooldown consulted before the ledger count
func (p *Pool) SetSuppressor(s Suppressor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suppressor = s
}

// Load atomically replaces the pool contents. Disabled credentials are dropped,
// input order is kept within each group and every cursor restarts at 0.
func (p *Pool) Load(activeGroupID string, creds []models.Credential) {
	groups := make(map[string][]models.Credential)
	byID := make(map[string]models.Credential, len(creds))
	for _, c := range creds {
		if !c.Enabled {
			continue
		}
		groups[c.GroupID] = append(groups[c.GroupID], c)
		byID[c.ID] = c
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.activeGroup = activeGroupID
	p.groups = groups
	p.byID = byID
	p.cursors = make(map[string]int, len(groups))

	p.logger.Info("Credential pool loaded",
		"active_group", activeGroupID,
		"groups", len(groups),
		"credentials", len(byID),
		"active_credentials", len(groups[activeGroupID]),
	)
}

// NextAvailable returns the next credential of groupID whose today-count is
// below its quota. It returns (nil, nil) when the group is empty or every
// member is exhausted, and ErrNoActiveGroup when groupID is empty.
//
// At most one full cycle is scanned starting at the group's cursor. The
// cursor moves past the returned credential, or by one slot when nothing
// qualified.
func (p *Pool) NextAvailable(ctx context.Context, groupID string) (*models.Credential, error) {
	if groupID == "" {
		return nil, ErrNoActiveGroup
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.groups[groupID]
	n := len(list)
	if n == 0 {
		return nil, nil
	}

	start := p.cursors[groupID]
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := (start + i) % n
		cred := list[idx]

		if p.suppressor != nil && p.suppressor.IsCoolingDown(cred.ID) {
			p.metrics.RecordSelectionRejected(reasonCooldown)
			continue
		}

		used, err := p.counter.CountToday(ctx, cred.ID)
		if err != nil {
			p.logger.Error("Failed to read today's usage, skipping credential",
				"credential_id", cred.ID,
				"error", err,
			)
			p.metrics.RecordSelectionRejected(reasonLedgerError)
			continue
		}

		if used >= cred.EffectiveQuota(p.defaultQuota) {
			p.metrics.RecordSelectionRejected(reasonQuotaExhausted)
			continue
		}

		p.cursors[groupID] = (idx + 1) % n
		return &cred, nil
	}

	p.cursors[groupID] = (start + 1) % n
	return nil, nil
}

// ActiveGroup returns the group id passed to the last Load.
func (p *Pool) ActiveGroup() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeGroup
}

// Credential looks up a loaded (enabled) credential by id.
func (p *Pool) Credential(id string) (models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.byID[id]
	return c, ok
}

// Credentials returns a copy of the ordered list for groupID.
func (p *Pool) Credentials(groupID string) []models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.groups[groupID]
	out := make([]models.Credential, len(list))
	copy(out, list)
	return out
}

// EffectiveQuota resolves c's daily quota against the pool's fallback.
func (p *Pool) EffectiveQuota(c models.Credential) int {
	return c.EffectiveQuota(p.defaultQuota)
}

// TotalQuota sums the effective quotas of groupID's credentials.
func (p *Pool) TotalQuota(groupID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, c := range p.groups[groupID] {
		total += c.EffectiveQuota(p.defaultQuota)
	}
	return total
}

func (p *Pool) cursor(groupID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursors[groupID]
}
