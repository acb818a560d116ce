package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixaill76/key_rotator/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	fail atomic.Bool
}

func (f *fakeStore) Ping(context.Context) error {
	if f.fail.Load() {
		return errors.New("database is locked")
	}
	return nil
}

func TestStorageChecker(t *testing.T) {
	hc := NewStorageChecker()
	assert.True(t, hc.IsHealthy(), "new checker should start healthy")

	hc.SetHealthy(false)
	assert.False(t, hc.IsHealthy())

	var nilChecker *StorageChecker
	assert.True(t, nilChecker.IsHealthy())
	nilChecker.SetHealthy(false)
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, NewStorageChecker(), &fakeStore{})
	require.NotNil(t, m)
	assert.Equal(t, 30*time.Second, m.config.CheckInterval)
	assert.Equal(t, 3, m.config.FailureThreshold)
	assert.Equal(t, 5*time.Second, m.config.PingTimeout)
}

func TestCheck_ThresholdAndRecovery(t *testing.T) {
	ctx := context.Background()
	hc := NewStorageChecker()
	store := &fakeStore{}
	store.fail.Store(true)

	m := NewMonitor(MonitorConfig{FailureThreshold: 3, Logger: testhelpers.NewTestLogger()}, hc, store)

	m.Check(ctx)
	assert.True(t, hc.IsHealthy(), "should stay healthy after 1 failure (threshold=3)")

	m.Check(ctx)
	m.Check(ctx)
	assert.False(t, hc.IsHealthy(), "should be unhealthy after 3 failures")

	stats := m.Stats()
	assert.Equal(t, 3, stats.ConsecutiveFailures)
	assert.Equal(t, "database is locked", stats.LastError)
	assert.False(t, stats.IsHealthy)

	store.fail.Store(false)
	m.Check(ctx)
	assert.True(t, hc.IsHealthy(), "should recover after one success")
	assert.Zero(t, m.Stats().ConsecutiveFailures)
	assert.Empty(t, m.Stats().LastError)
}

func TestStart_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeStore{}
	store.fail.Store(true)
	hc := NewStorageChecker()

	m := NewMonitor(MonitorConfig{
		CheckInterval:    5 * time.Millisecond,
		FailureThreshold: 1,
		Logger:           testhelpers.NewTestLogger(),
	}, hc, store)

	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !hc.IsHealthy() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
