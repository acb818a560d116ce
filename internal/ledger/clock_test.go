package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func laClock(t *testing.T, now time.Time) *Clock {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return NewClock(loc).WithNow(func() time.Time { return now })
}

func TestClock_StartOfDay_Standard(t *testing.T) {
	// 2025-01-15 03:00 UTC is still 2025-01-14 in Los Angeles (PST, UTC-8)
	c := laClock(t, time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2025, 1, 14, 8, 0, 0, 0, time.UTC), c.StartOfDay())
	assert.Equal(t, time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC), c.NextReset())
}

func TestClock_StartOfDay_Daylight(t *testing.T) {
	// PDT, UTC-7
	c := laClock(t, time.Date(2025, 7, 4, 18, 30, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2025, 7, 4, 7, 0, 0, 0, time.UTC), c.StartOfDay())
	assert.Equal(t, time.Date(2025, 7, 5, 7, 0, 0, 0, time.UTC), c.NextReset())
}

func TestClock_DSTTransitionDay(t *testing.T) {
	// 2025-03-09 is 23 hours long in Los Angeles
	c := laClock(t, time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC))

	start := c.StartOfDay()
	assert.Equal(t, time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 23*time.Hour, c.NextReset().Sub(start))
}

func TestClock_IndependentOfInputZone(t *testing.T) {
	c := laClock(t, time.Time{})
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	instant := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, c.StartOfDayAt(instant), c.StartOfDayAt(instant.In(tokyo)))
}

func TestClock_NowTruncatesToStoredPrecision(t *testing.T) {
	c := laClock(t, time.Date(2025, 3, 10, 20, 0, 38, 644771789, time.FixedZone("X", 3600)))

	now := c.Now()
	assert.Equal(t, time.Date(2025, 3, 10, 19, 0, 38, 644771000, time.UTC), now)
	assert.Equal(t, time.UTC, now.Location())
}

func TestNewClock_NilLocationIsUTC(t *testing.T) {
	c := NewClock(nil).WithNow(func() time.Time { return time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC) })

	assert.Equal(t, time.UTC, c.Location())
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), c.StartOfDay())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(-5))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(MaxHistoryLimit+1))
}
