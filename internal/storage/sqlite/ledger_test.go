package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/ledger/ledgertest"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, clock *ledger.Clock) ledger.Ledger {
		return NewLedger(setupTestDB(t), clock)
	})
}

func TestLedger_DuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(setupTestDB(t), ledgertest.NewClock(t))

	rec := ledgertest.Record("req-1", "k1", ledgertest.FixedNow)
	require.NoError(t, l.Record(ctx, rec))

	err := l.Record(ctx, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestLedger_HistoryTieBreaksOnInsertOrder(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(setupTestDB(t), ledgertest.NewClock(t))

	ts := ledgertest.FixedNow.Add(-time.Minute)
	require.NoError(t, l.Record(ctx, ledgertest.Record("first", "k1", ts)))
	require.NoError(t, l.Record(ctx, ledgertest.Record("second", "k1", ts)))

	rows, err := l.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "second", rows[0].RequestID)

	last, err := l.LastUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", last["k1"].RequestID)
}

func TestNewDB_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer))
	require.NoError(t, RunMigrations(db.Writer), "re-running migrations is a no-op")
	assert.Equal(t, path, db.Path())
	assert.NoError(t, db.Ping(context.Background()))

	var mode string
	require.NoError(t, db.Reader.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
