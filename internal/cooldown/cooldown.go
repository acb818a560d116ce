// Package cooldown suppresses credentials locally after the upstream reports
// their quota as exhausted, so the pool stops handing them out before the
// ledger count catches up.
package cooldown

import (
	"sort"
	"sync"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/monitoring"
)

type Cooldown struct {
	mu       sync.RWMutex
	duration time.Duration // 0 disables marking
	clock    *ledger.Clock
	until    map[string]time.Time
	metrics  *monitoring.Metrics
}

// New creates a cooldown tracker. Marks expire after duration or at the next
// quota-day reset of clock, whichever comes first.
func New(duration time.Duration, clock *ledger.Clock, metrics *monitoring.Metrics) *Cooldown {
	return &Cooldown{
		duration: duration,
		clock:    clock,
		until:    make(map[string]time.Time),
		metrics:  metrics,
	}
}

// Enabled reports whether Mark has any effect.
func (c *Cooldown) Enabled() bool {
	return c != nil && c.duration > 0
}

// Mark puts credentialID into cooldown.
func (c *Cooldown) Mark(credentialID string) {
	if !c.Enabled() {
		return
	}

	until := c.clock.Now().Add(c.duration)
	if reset := c.clock.NextReset(); reset.Before(until) {
		until = reset
	}

	c.mu.Lock()
	c.until[credentialID] = until
	c.mu.Unlock()

	c.metrics.UpdateCredentialCooldown(credentialID, true)
}

// IsCoolingDown reports whether credentialID is still suppressed. Expired
// marks are removed on the way.
func (c *Cooldown) IsCoolingDown(credentialID string) bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	until, ok := c.until[credentialID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	if c.clock.Now().Before(until) {
		return true
	}

	c.mu.Lock()
	// Double-check after acquiring write lock; another goroutine may have re-marked it
	cur, ok := c.until[credentialID]
	if ok && c.clock.Now().Before(cur) {
		c.mu.Unlock()
		return true
	}
	delete(c.until, credentialID)
	c.mu.Unlock()

	if ok {
		c.metrics.UpdateCredentialCooldown(credentialID, false)
	}
	return false
}

// Clear lifts the cooldown of credentialID.
func (c *Cooldown) Clear(credentialID string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	_, ok := c.until[credentialID]
	delete(c.until, credentialID)
	c.mu.Unlock()

	if ok {
		c.metrics.UpdateCredentialCooldown(credentialID, false)
	}
}

// Active returns the ids currently in cooldown, sorted.
func (c *Cooldown) Active() []string {
	if c == nil {
		return nil
	}

	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for id, until := range c.until {
		if now.Before(until) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
