// Package fhirtime parses FHIR date, dateTime and instant values into the
// time interval they denote. Partial dates cover their whole year, month or
// day; values without a zone are read as UTC.
package fhirtime

import (
	"fmt"
	"strings"
	"time"
)

// Interval is a closed time interval. A zero bound is unbounded.
type Interval struct {
	Start time.Time
	End   time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Parse returns the interval covered by a FHIR date or dateTime value.
func Parse(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "T") {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Interval{Start: t, End: t}, nil
			}
		}
		return Interval{}, fmt.Errorf("invalid dateTime %q", s)
	}

	var (
		t   time.Time
		err error
		end func(time.Time) time.Time
	)
	switch len(s) {
	case 4:
		t, err = time.Parse("2006", s)
		end = func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }
	case 7:
		t, err = time.Parse("2006-01", s)
		end = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	case 10:
		t, err = time.Parse("2006-01-02", s)
		end = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	default:
		return Interval{}, fmt.Errorf("invalid date %q", s)
	}
	if err != nil {
		return Interval{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Interval{Start: t, End: end(t).Add(-time.Nanosecond)}, nil
}

// ParsePeriod returns the interval of a Period. Either bound may be empty.
func ParsePeriod(start, end string) (Interval, error) {
	var iv Interval
	if start != "" {
		s, err := Parse(start)
		if err != nil {
			return Interval{}, err
		}
		iv.Start = s.Start
	}
	if end != "" {
		e, err := Parse(end)
		if err != nil {
			return Interval{}, err
		}
		iv.End = e.End
	}
	return iv, nil
}

// EndsAtOrAfter reports whether some instant of i is at or after t; this is
// the FHIR "ge" comparison.
func (i Interval) EndsAtOrAfter(t time.Time) bool {
	return i.End.IsZero() || !i.End.Before(t)
}

// StartsAtOrBefore reports whether some instant of i is at or before t;
// this is the FHIR "le" comparison.
func (i Interval) StartsAtOrBefore(t time.Time) bool {
	return i.Start.IsZero() || !i.Start.After(t)
}

// Overlaps reports whether i intersects [start, end]. Zero bounds are open.
func (i Interval) Overlaps(start, end time.Time) bool {
	return (start.IsZero() || i.EndsAtOrAfter(start)) && (end.IsZero() || i.StartsAtOrBefore(end))
}
