package authkit

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by the wall clock.
func NewSystemClock() Clock {
	return systemClock{}
}
