// Package interval holds half-open time interval helpers used by the scheduler.
package interval

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidInterval = errors.New("invalid interval: end must be after start")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds an interval, rejecting empty or inverted ranges.
func New(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidInterval)
	}
	if !iv.End.After(iv.Start) {
		return fmt.Errorf("%w (start=%s end=%s)", ErrInvalidInterval,
			iv.Start.Format(time.DateTime), iv.End.Format(time.DateTime))
	}
	return nil
}

// Overlaps reports whether a and b share any instant. Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (iv Interval) Overlaps(other Interval) bool {
	return Overlaps(iv, other)
}

// Contains reports whether t falls inside [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) Minutes() int {
	return int(iv.Duration() / time.Minute)
}

// Shift moves the interval so it starts at start, keeping its duration.
func (iv Interval) Shift(start time.Time) Interval {
	return Interval{Start: start, End: start.Add(iv.Duration())}
}

// Format renders the range for user-facing messages, e.g. "2025-03-10 09:00-10:00".
func (iv Interval) Format() string {
	if SameDate(iv.Start, iv.End) {
		return fmt.Sprintf("%s %s-%s", iv.Start.Format(dateLayout), iv.Start.Format(timeLayout), iv.End.Format(timeLayout))
	}
	return fmt.Sprintf("%s %s-%s %s",
		iv.Start.Format(dateLayout), iv.Start.Format(timeLayout),
		iv.End.Format(dateLayout), iv.End.Format(timeLayout))
}

func (iv Interval) String() string {
	return iv.Format()
}

// Date truncates t to midnight of its calendar day, keeping the location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Day returns the interval covering the whole calendar day of t.
func Day(t time.Time) Interval {
	start := Date(t)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}
