package dates

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange covers calendar dates that do not exist and ranges
// whose start lies after their resolved end.
var ErrInvalidRange = errors.New("invalid date range")

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Spec is a parsed date bound. Month-only input keeps its granularity so
// that range resolution can expand it to the first or last day.
type Spec struct {
	Value   time.Time
	IsMonth bool
}

// Parse accepts YYYY-MM-DD or YYYY-MM. Nonexistent calendar dates such
// as 2025-04-31 are rejected here, before any query is issued.
func Parse(value string) (Spec, error) {
	if t, err := time.Parse(dayLayout, value); err == nil {
		return Spec{Value: t.UTC()}, nil
	}
	if t, err := time.Parse(monthLayout, value); err == nil {
		return Spec{Value: t.UTC(), IsMonth: true}, nil
	}
	return Spec{}, fmt.Errorf("%w: %q is neither YYYY-MM-DD nor YYYY-MM", ErrInvalidRange, value)
}

// Range is an inclusive interval of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// Label is the YYYY-MM name of the month the range lies in.
func (r Range) Label() string {
	return r.Start.Format(monthLayout)
}

func (r Range) String() string {
	return r.Start.Format(dayLayout) + ".." + r.End.Format(dayLayout)
}

// Months splits [start, end] into one range per calendar month touched,
// chronologically ascending, each clipped to the overall bounds and to
// today. A nil end defaults to today, as does a resolved end beyond
// today, so an in-progress month can be collected without an explicit
// end bound. Today is injected rather than read from the clock so the
// chunking is deterministic.
func Months(start Spec, end *Spec, today time.Time) ([]Range, error) {
	today = midnight(today)

	s := start.Value
	var e time.Time
	switch {
	case end == nil:
		e = today
	case end.IsMonth:
		e = endOfMonth(end.Value)
	default:
		e = end.Value
	}
	if e.After(today) {
		e = today
	}
	if s.After(e) {
		return nil, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidRange, s.Format(dayLayout), e.Format(dayLayout))
	}

	var out []Range
	for first := time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, time.UTC); !first.After(e); first = first.AddDate(0, 1, 0) {
		r := Range{Start: first, End: endOfMonth(first)}
		if r.Start.Before(s) {
			r.Start = s
		}
		if r.End.After(e) {
			r.End = e
		}
		out = append(out, r)
	}
	return out, nil
}

func endOfMonth(t time.Time) time.Time {
	// Day zero of the following month normalizes to the last day of t's month.
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
