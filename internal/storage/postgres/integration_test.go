package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/ledger/ledgertest"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestPool connects to KEY_ROTATOR_TEST_POSTGRES_URL and truncates every table.
func setupTestPool(t *testing.T) *Pool {
	t.Helper()

	url := os.Getenv("KEY_ROTATOR_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("KEY_ROTATOR_TEST_POSTGRES_URL not set")
	}

	pool, err := NewPool(PoolConfig{DatabaseURL: url, MaxConns: 4, Logger: testhelpers.NewTestLogger()})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ctx := context.Background()
	require.NoError(t, pool.EnsureSchema(ctx))

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `TRUNCATE usage_records, settings, api_keys`)
	conn.Release()
	require.NoError(t, err)
	_, err = NewStore(pool).execAffected(ctx, `DELETE FROM key_groups WHERE id <> 'default'`)
	require.NoError(t, err)

	return pool
}

func TestIntegration_LedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, clock *ledger.Clock) ledger.Ledger {
		return NewLedger(setupTestPool(t), clock)
	})
}

func TestIntegration_StoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestPool(t))

	active, err := s.ActiveGroupID(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultGroupID, active)

	g, err := s.CreateGroup(ctx, models.Group{Name: "paid"})
	require.NoError(t, err)
	_, err = s.CreateGroup(ctx, models.Group{Name: "paid"})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	c, err := s.CreateCredential(ctx, models.Credential{Secret: "AIzaSyPg", GroupID: g.ID, Enabled: true})
	require.NoError(t, err)
	require.NoError(t, s.SetActiveGroup(ctx, g.ID))

	creds, err := s.CredentialsByGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, c.ID, creds[0].ID)

	assert.ErrorIs(t, s.DeleteGroup(ctx, g.ID), models.ErrGroupNotEmpty)
	require.NoError(t, s.DeleteCredential(ctx, c.ID))
	require.NoError(t, s.DeleteGroup(ctx, g.ID))

	active, err = s.ActiveGroupID(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultGroupID, active)
}
