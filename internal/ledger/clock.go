package ledger

import (
	"time"

	"github.com/mixaill76/key_rotator/internal/utils"
)

// Clock computes quota-day boundaries in a fixed time zone, independent of
// the zone the process runs in.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock returns a Clock for loc. A nil loc means UTC.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: utils.NowUTC}
}

// WithNow returns a copy of the clock that reads the current time from now.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

// Location returns the zone that defines the quota day.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// TimestampPrecision is the resolution the ledger backends store. Now never
// carries finer detail so a recorded timestamp reads back unchanged.
const TimestampPrecision = time.Microsecond

// Now returns the current instant in UTC, truncated to TimestampPrecision.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(TimestampPrecision)
}

// StartOfDay returns the UTC instant of the most recent midnight in the quota zone.
func (c *Clock) StartOfDay() time.Time {
	return c.StartOfDayAt(c.Now())
}

// StartOfDayAt returns the UTC instant of the midnight preceding t in the quota zone.
func (c *Clock) StartOfDayAt(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).UTC()
}

// NextReset returns the UTC instant at which the current quota day ends.
func (c *Clock) NextReset() time.Time {
	local := c.Now().In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, c.loc).UTC()
}
