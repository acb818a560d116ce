package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mixaill76/key_rotator/internal/keypool"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/ledger/ledgertest"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStatus map[string]models.KeyStatus

func (f fixedStatus) Status(id string) models.KeyStatus {
	if s, ok := f[id]; ok {
		return s
	}
	return models.KeyIdle
}

func setup(t *testing.T) (*Service, *ledger.MemoryLedger, []models.Credential) {
	t.Helper()
	clock := ledgertest.NewClock(t)
	l := ledger.NewMemoryLedger(clock)

	creds := []models.Credential{
		testhelpers.NewTestCredential("a", "g1", 10),
		testhelpers.NewTestCredential("b", "g1", 0),
	}
	pool := keypool.New(l, 5)
	pool.Load("g1", creds)

	svc := NewService(l, pool, fixedStatus{"a": models.KeyPending}, clock, 24)
	return svc, l, creds
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := setup(t)

	now := ledgertest.FixedNow
	require.NoError(t, l.Record(ctx, ledgertest.Record("r1", "a", now.Add(-time.Hour))))
	require.NoError(t, l.Record(ctx, ledgertest.Record("r2", "b", now.Add(-2*time.Hour))))
	require.NoError(t, l.Record(ctx, ledgertest.Record("old", "a", now.Add(-20*time.Hour))))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 15, snap.TotalRpd)
	assert.Equal(t, 2, snap.TotalUsageToday, "rows before local midnight are not today's")
	assert.Equal(t, 13, snap.RemainingQuota)
	assert.Equal(t, 2, snap.RequestsToday)
	assert.Equal(t, 3, snap.Tokens.TotalRequests)
	assert.Equal(t, "g1", snap.ActiveGroup)
	assert.Equal(t, time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), snap.NextReset)
}

func TestSnapshot_IgnoresOtherGroupsUsage(t *testing.T) {
	ctx := context.Background()
	clock := ledgertest.NewClock(t)
	l := ledger.NewMemoryLedger(clock)

	pool := keypool.New(l, 5)
	pool.Load("g1", []models.Credential{
		testhelpers.NewTestCredential("a", "g1", 10),
		testhelpers.NewTestCredential("other", "g2", 10),
	})
	svc := NewService(l, pool, fixedStatus{}, clock, 24)

	now := ledgertest.FixedNow
	for i := 0; i < 8; i++ {
		rec := ledgertest.Record(fmt.Sprintf("g2-%d", i), "other", now.Add(-time.Duration(i+1)*time.Minute))
		rec.GroupID = "g2"
		require.NoError(t, l.Record(ctx, rec))
	}
	require.NoError(t, l.Record(ctx, ledgertest.Record("deleted", "gone", now.Add(-time.Hour))))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 10, snap.TotalRpd)
	assert.Equal(t, 0, snap.TotalUsageToday, "usage of other groups and deleted keys is not the active pool's")
	assert.Equal(t, 10, snap.RemainingQuota)
	assert.Equal(t, 9, snap.RequestsToday)

	require.NoError(t, l.Record(ctx, ledgertest.Record("a-1", "a", now.Add(-time.Minute))))
	snap, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalUsageToday)
	assert.Equal(t, 9, snap.RemainingQuota)
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	svc, l, creds := setup(t)

	ts := ledgertest.FixedNow.Add(-time.Minute)
	require.NoError(t, l.Record(ctx, ledgertest.Record("r1", "a", ts)))

	views, err := svc.Views(ctx, creds)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, 1, views[0].UsageToday)
	assert.Equal(t, models.KeyPending, views[0].Status)
	require.NotNil(t, views[0].LastUsedAt)
	assert.True(t, ts.Equal(*views[0].LastUsedAt))
	assert.Equal(t, "success", views[0].LastStatus)
	assert.NotContains(t, views[0].MaskedSecret, "SecretValue")

	assert.Equal(t, 5, views[1].DailyQuota, "unset quota shows the fallback")
	assert.Equal(t, models.KeyIdle, views[1].Status)
	assert.Nil(t, views[1].LastUsedAt)
}
