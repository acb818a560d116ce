package sqlite

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"
)

var testDBSeq atomic.Int64

// setupTestDB creates a named shared in-memory SQLite database with migrations applied.
// Writer and reader connections share the same database via cache=shared.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// A test may open more than one database, so the name carries a sequence number.
	safeName := url.PathEscape(fmt.Sprintf("%s-%d", t.Name(), testDBSeq.Add(1)))
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		safeName,
	)

	db, err := openDSN(dsn, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}
