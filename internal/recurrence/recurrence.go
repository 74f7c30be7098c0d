// Package recurrence expands weekly recurrence rules into concrete occurrence intervals.
package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

var ErrInvalidRecurrence = errors.New("invalid recurrence rule")

// DefaultMaxHorizon bounds how far after the anchor date a rule may run.
const DefaultMaxHorizon = 2 * 365 * 24 * time.Hour

type Frequency string

const (
	Weekly Frequency = "weekly"
)

// Rule describes a recurrence. DaysOfWeek uses 0=Sunday..6=Saturday.
// Until is an inclusive calendar date; its time of day is ignored.
type Rule struct {
	Frequency  Frequency      `json:"frequency"`
	DaysOfWeek []time.Weekday `json:"days_of_week"`
	Until      time.Time      `json:"until"`
}

// Expander validates and expands rules against a horizon.
type Expander struct {
	maxHorizon time.Duration
}

func NewExpander(maxHorizon time.Duration) *Expander {
	if maxHorizon <= 0 {
		maxHorizon = DefaultMaxHorizon
	}
	return &Expander{maxHorizon: maxHorizon}
}

// Validate checks the rule against the anchor interval.
func (e *Expander) Validate(anchor interval.Interval, rule Rule) error {
	if err := anchor.Validate(); err != nil {
		return err
	}
	if rule.Frequency != Weekly {
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRecurrence, rule.Frequency)
	}
	if len(rule.DaysOfWeek) == 0 {
		return fmt.Errorf("%w: days_of_week must not be empty", ErrInvalidRecurrence)
	}
	for _, d := range rule.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: day of week %d out of range", ErrInvalidRecurrence, d)
		}
	}
	if !slices.Contains(rule.DaysOfWeek, anchor.Start.Weekday()) {
		return fmt.Errorf("%w: days_of_week must include the anchor weekday %s", ErrInvalidRecurrence, anchor.Start.Weekday())
	}
	if rule.Until.IsZero() {
		return fmt.Errorf("%w: until is required", ErrInvalidRecurrence)
	}
	anchorDate := interval.Date(anchor.Start)
	untilDate := untilIn(rule.Until, anchor.Start.Location())
	if untilDate.Before(anchorDate) {
		return fmt.Errorf("%w: until %s precedes anchor date %s", ErrInvalidRecurrence,
			untilDate.Format(time.DateOnly), anchorDate.Format(time.DateOnly))
	}
	if untilDate.Sub(anchorDate) > e.maxHorizon {
		return fmt.Errorf("%w: until %s is beyond the %d day horizon", ErrInvalidRecurrence,
			untilDate.Format(time.DateOnly), int(e.maxHorizon/(24*time.Hour)))
	}
	return nil
}

// Expand returns the occurrences of rule anchored at anchor. The anchor itself is
// always the first occurrence.
func (e *Expander) Expand(anchor interval.Interval, rule Rule) (Sequence, error) {
	if err := e.Validate(anchor, rule); err != nil {
		return Sequence{}, err
	}
	var days [7]bool
	for _, d := range rule.DaysOfWeek {
		days[d] = true
	}
	return Sequence{
		anchor: anchor,
		days:   days,
		until:  untilIn(rule.Until, anchor.Start.Location()),
	}, nil
}

// Expand uses the default horizon.
func Expand(anchor interval.Interval, rule Rule) (Sequence, error) {
	return NewExpander(DefaultMaxHorizon).Expand(anchor, rule)
}

// RemoveDay drops day from the rule. Removing the anchor weekday is rejected.
func RemoveDay(rule Rule, anchor interval.Interval, day time.Weekday) (Rule, error) {
	if day == anchor.Start.Weekday() {
		return rule, fmt.Errorf("%w: cannot remove the anchor weekday %s", ErrInvalidRecurrence, day)
	}
	out := rule
	out.DaysOfWeek = slices.DeleteFunc(slices.Clone(rule.DaysOfWeek), func(d time.Weekday) bool { return d == day })
	return out, nil
}

// Sequence is a finite, restartable list of occurrences. The zero value is empty.
type Sequence struct {
	anchor interval.Interval
	days   [7]bool
	until  time.Time
}

// All yields (1-based index, occurrence) pairs in increasing date order.
// Every call starts over from the anchor.
func (s Sequence) All() iter.Seq2[int, interval.Interval] {
	return func(yield func(int, interval.Interval) bool) {
		if s.anchor.Start.IsZero() {
			return
		}
		duration := s.anchor.Duration()
		start := s.anchor.Start
		h, m, sec := start.Clock()
		index := 0
		for date := interval.Date(start); !date.After(s.until); date = date.AddDate(0, 0, 1) {
			if !s.days[date.Weekday()] {
				continue
			}
			y, mo, d := date.Date()
			occStart := time.Date(y, mo, d, h, m, sec, start.Nanosecond(), start.Location())
			index++
			if !yield(index, interval.Interval{Start: occStart, End: occStart.Add(duration)}) {
				return
			}
		}
	}
}

func (s Sequence) Collect() []interval.Interval {
	var out []interval.Interval
	for _, iv := range s.All() {
		out = append(out, iv)
	}
	return out
}

func (s Sequence) Len() int {
	n := 0
	for range s.All() {
		n++
	}
	return n
}

// ParseWeekday accepts 0-6 indices, English names and their common abbreviations.
func ParseWeekday(token string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "0", "sun", "sunday":
		return time.Sunday, nil
	case "1", "mon", "monday":
		return time.Monday, nil
	case "2", "tue", "tues", "tuesday":
		return time.Tuesday, nil
	case "3", "wed", "wednesday":
		return time.Wednesday, nil
	case "4", "thu", "thur", "thurs", "thursday":
		return time.Thursday, nil
	case "5", "fri", "friday":
		return time.Friday, nil
	case "6", "sat", "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("%w: unknown day of week %q", ErrInvalidRecurrence, token)
}

func untilIn(until time.Time, loc *time.Location) time.Time {
	y, m, d := until.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
