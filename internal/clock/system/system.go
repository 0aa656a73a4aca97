// Package system provides a real clock implementation.
package system

import (
	"time"

	"cloud.google.com/go/civil"
)

// Clock implements boxoffice.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Today returns the calendar date of now in the clock's location.
func Today(now time.Time) civil.Date {
	return civil.DateOf(now)
}
