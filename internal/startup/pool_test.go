package startup

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/mixaill76/key_rotator/internal/keypool"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/logger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/storage/memory"
	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenSource struct{}

func (brokenSource) ActiveGroupID(context.Context) (string, error) {
	return "", errors.New("db down")
}

func (brokenSource) ListCredentials(context.Context) ([]models.Credential, error) {
	return nil, nil
}

func newPool() *keypool.Pool {
	return keypool.New(ledger.NewMemoryLedger(ledger.NewClock(nil)), 100)
}

func TestLoadPool(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	enabled := testhelpers.NewTestCredential("", models.DefaultGroupID, 10)
	_, err := store.CreateCredential(ctx, enabled)
	require.NoError(t, err)

	disabled := testhelpers.NewTestCredential("", models.DefaultGroupID, 10)
	disabled.Enabled = false
	_, err = store.CreateCredential(ctx, disabled)
	require.NoError(t, err)

	pool := newPool()
	require.NoError(t, LoadPool(ctx, store, pool))

	assert.Equal(t, models.DefaultGroupID, pool.ActiveGroup())
	assert.Len(t, pool.Credentials(models.DefaultGroupID), 1)
}

func TestLoadPool_SourceError(t *testing.T) {
	pool := newPool()
	err := LoadPool(context.Background(), brokenSource{}, pool)
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, pool.ActiveGroup())
}

func TestLogPoolDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug")
	pool := newPool()

	LogPoolDiagnostics(pool, log)
	assert.Contains(t, buf.String(), "No active key group")

	buf.Reset()
	pool.Load("g1", nil)
	LogPoolDiagnostics(pool, log)
	assert.Contains(t, buf.String(), "no enabled credentials")

	buf.Reset()
	pool.Load("g1", []models.Credential{testhelpers.NewTestCredential("a", "g1", 25)})
	LogPoolDiagnostics(pool, log)
	assert.Contains(t, buf.String(), "Credential pool ready")
	assert.Contains(t, buf.String(), "total_daily_quota=25")
	assert.NotContains(t, buf.String(), "SecretValue")
}
