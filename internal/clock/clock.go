package clock

import "time"

// Clock supplies the current wall-clock time. Appointment times are timezone-naive,
// so every value handed out is the local wall clock expressed in time.UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns a Clock backed by the host clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return Naive(time.Now())
}

// Fixed always returns the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time {
	return time.Time(f)
}

// Naive drops the zone of t while keeping its wall-clock fields.
func Naive(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
