// Package stats assembles dashboard snapshots from the ledger, the pool and
// the runtime state map.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
)

// QuotaSource exposes the active pool's capacity.
type QuotaSource interface {
	ActiveGroup() string
	Credentials(groupID string) []models.Credential
	TotalQuota(groupID string) int
	EffectiveQuota(c models.Credential) int
}

// StatusSource exposes runtime key states.
type StatusSource interface {
	Status(credentialID string) models.KeyStatus
}

type Service struct {
	ledger      ledger.Ledger
	quota       QuotaSource
	status      StatusSource
	clock       *ledger.Clock
	windowHours int
}

func NewService(l ledger.Ledger, quota QuotaSource, status StatusSource, clock *ledger.Clock, windowHours int) *Service {
	if windowHours <= 0 {
		windowHours = 24
	}
	return &Service{
		ledger:      l,
		quota:       quota,
		status:      status,
		clock:       clock,
		windowHours: windowHours,
	}
}

// Snapshot returns today's quota summary for the active group's credentials,
// the day's request count over all groups and token totals over the
// trailing window.
func (s *Service) Snapshot(ctx context.Context) (models.DashboardStats, error) {
	group := s.quota.ActiveGroup()

	usedToday := 0
	for _, c := range s.quota.Credentials(group) {
		n, err := s.ledger.CountToday(ctx, c.ID)
		if err != nil {
			return models.DashboardStats{}, fmt.Errorf("count today for %q: %w", c.ID, err)
		}
		usedToday += n
	}

	requestsToday, err := s.ledger.CountSince(ctx, s.clock.StartOfDay())
	if err != nil {
		return models.DashboardStats{}, fmt.Errorf("count requests today: %w", err)
	}

	tokens, err := s.ledger.GlobalStats(ctx, s.windowHours)
	if err != nil {
		return models.DashboardStats{}, fmt.Errorf("global stats: %w", err)
	}

	total := s.quota.TotalQuota(group)
	remaining := total - usedToday
	if remaining < 0 {
		remaining = 0
	}

	return models.DashboardStats{
		QuotaSummary: models.QuotaSummary{
			TotalRpd:        total,
			TotalUsageToday: usedToday,
			RemainingQuota:  remaining,
		},
		RequestsToday: requestsToday,
		Tokens:        tokens,
		ActiveGroup:   group,
		NextReset:     s.clock.NextReset(),
	}, nil
}

// Views decorates creds with today's usage, runtime status and last usage row.
func (s *Service) Views(ctx context.Context, creds []models.Credential) ([]models.CredentialView, error) {
	last, err := s.ledger.LastUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("last usage: %w", err)
	}

	views := make([]models.CredentialView, 0, len(creds))
	for i := range creds {
		c := &creds[i]
		v := c.View()
		v.DailyQuota = s.quota.EffectiveQuota(*c)

		used, err := s.ledger.CountToday(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("count today for %q: %w", c.ID, err)
		}
		v.UsageToday = used
		v.Status = s.status.Status(c.ID)

		if rec, ok := last[c.ID]; ok {
			ts := rec.Timestamp
			v.LastUsedAt = &ts
			v.LastStatus = string(rec.Status)
		}
		views = append(views, v)
	}
	return views, nil
}

// WindowHours is the trailing window used for token totals.
func (s *Service) WindowHours() int {
	return s.windowHours
}

// NextReset returns when the current quota day ends.
func (s *Service) NextReset() time.Time {
	return s.clock.NextReset()
}
