// Package system provides the wall clock used by the broker and tasks.
package system

import "time"

// Clock implements bugs.Clock with UTC wall time.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at T, for tests and replays.
type Fixed struct {
	T time.Time
}

// Now returns f.T.
func (f Fixed) Now() time.Time {
	return f.T
}
