// Package clock abstracts wall-clock reads so "active subscription" checks can
// be frozen in tests.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed struct{ T time.Time }

func (f Fixed) Now() time.Time { return f.T }
