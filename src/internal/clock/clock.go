package clock

import "time"

// Clock supplies the current time. Services take a Clock so tests can
// drive lateness, expiry and sweep behaviour with fixed instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// New returns the system clock (UTC).
func New() Clock {
	return systemClock{}
}
