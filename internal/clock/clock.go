package clock

import "time"

// Clock abstracts wall-clock time so the scheduler, delay queue, and
// delivery processor can be driven by a simulated clock in tests.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}
