// Package system provides the wall clock used to time refresh runs.
package system

import "time"

// Clock implements refresh.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since reports the time elapsed since start.
func (Clock) Since(start time.Time) time.Duration {
	return time.Since(start)
}
