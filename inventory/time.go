package inventory

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIME HELPERS
// =============================================================================
// Every logical timestamp is normalized to UTC on the way in so that stores
// can compare and order them without caring about zones.

const dateLayout = "2006-01-02"

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// EndOfDay returns the last representable instant of t's UTC day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// DaysBetween counts whole UTC days from `from` to `to`.
func DaysBetween(from, to time.Time) int {
	return int(StartOfDay(to).Sub(StartOfDay(from)).Hours() / 24)
}

// ParseTime accepts RFC3339 timestamps or plain YYYY-MM-DD dates. Date-only
// values resolve to midnight UTC unless endOfDay is set.
func ParseTime(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		if endOfDay {
			return EndOfDay(t), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use YYYY-MM-DD or RFC3339)", s)
	}
	return t.UTC(), nil
}

// Clock returns the current time. Swapped in tests.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
