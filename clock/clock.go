// Package clock provides "now" in both UTC and a configurable local time
// zone. The zone is held behind a RWMutex because it can be updated after
// startup (learned from the inverter host) and reads vastly outnumber
// writes.
package clock

import (
	"sync"
	"time"
)

// Clock is safe for concurrent use.
type Clock struct {
	mu  sync.RWMutex
	loc *time.Location
}

// New returns a Clock set to loc, defaulting to UTC if loc is nil.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// NowUTC returns the current instant in UTC.
func (c *Clock) NowUTC() time.Time {
	return time.Now().UTC()
}

// Now returns the current instant in the configured local zone.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	loc := c.loc
	c.mu.RUnlock()
	return time.Now().In(loc)
}

// Location returns the configured zone.
func (c *Clock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}

// SetLocation updates the zone, e.g. once learned from the inverter host.
func (c *Clock) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
}

// BlockStart truncates t to the most recent 15-minute boundary.
func BlockStart(t time.Time) time.Time {
	return t.Truncate(15 * time.Minute)
}
