package cooldown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a Los Angeles clock whose time is moved by the returned setter.
func fakeClock(t *testing.T, start time.Time) (*ledger.Clock, func(time.Time)) {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	var now atomic.Int64
	now.Store(start.UnixNano())
	clock := ledger.NewClock(loc).WithNow(func() time.Time { return time.Unix(0, now.Load()).UTC() })
	return clock, func(t time.Time) { now.Store(t.UnixNano()) }
}

func TestMarkAndExpire(t *testing.T) {
	start := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	clock, set := fakeClock(t, start)
	c := New(time.Minute, clock, nil)

	assert.False(t, c.IsCoolingDown("k1"))

	c.Mark("k1")
	assert.True(t, c.IsCoolingDown("k1"))
	assert.Equal(t, []string{"k1"}, c.Active())

	set(start.Add(59 * time.Second))
	assert.True(t, c.IsCoolingDown("k1"))

	set(start.Add(time.Minute))
	assert.False(t, c.IsCoolingDown("k1"))
	assert.Empty(t, c.Active())
}

func TestMarkEndsAtQuotaReset(t *testing.T) {
	// 23:59:30 PDT, thirty seconds before the quota day rolls over
	start := time.Date(2025, 3, 11, 6, 59, 30, 0, time.UTC)
	clock, set := fakeClock(t, start)
	c := New(time.Hour, clock, nil)

	c.Mark("k1")
	set(start.Add(29 * time.Second))
	assert.True(t, c.IsCoolingDown("k1"))

	set(start.Add(30 * time.Second))
	assert.False(t, c.IsCoolingDown("k1"))
}

func TestDisabled(t *testing.T) {
	clock, _ := fakeClock(t, time.Now())
	c := New(0, clock, nil)

	assert.False(t, c.Enabled())
	c.Mark("k1")
	assert.False(t, c.IsCoolingDown("k1"))

	var nilCooldown *Cooldown
	assert.False(t, nilCooldown.IsCoolingDown("k1"))
	assert.NotPanics(t, func() { nilCooldown.Mark("k1"); nilCooldown.Clear("k1") })
}

func TestClear(t *testing.T) {
	clock, _ := fakeClock(t, time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC))
	c := New(time.Minute, clock, nil)

	c.Mark("k1")
	c.Mark("k2")
	c.Clear("k1")

	assert.False(t, c.IsCoolingDown("k1"))
	assert.True(t, c.IsCoolingDown("k2"))
	assert.Equal(t, []string{"k2"}, c.Active())
}

func TestConcurrentAccess(t *testing.T) {
	clock, _ := fakeClock(t, time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC))
	c := New(time.Minute, clock, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Mark("k1")
			_ = c.IsCoolingDown("k1")
			_ = c.Active()
		}()
	}
	wg.Wait()

	assert.True(t, c.IsCoolingDown("k1"))
}
