// Package timeutil provides location-aware calendar helpers.
// Streaks are counted in calendar days of the user's configured location,
// so every helper takes the location explicitly instead of assuming UTC.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// LoadLocation resolves an IANA zone name. An empty name yields time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// Date creates midnight of the given calendar day in loc.
func Date(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, orLocal(loc))
}

// StartOfDay returns the start of the day (00:00:00) of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(orLocal(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// DaysBetween returns the signed number of calendar days from `from` to `to`
// in loc. It is negative when `to` lies on an earlier day than `from`.
// Days are counted on the calendar, so a DST shift does not change the result.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	loc = orLocal(loc)
	f := from.In(loc)
	t := to.In(loc)
	// Compare the calendar dates as UTC midnights to sidestep 23h/25h days.
	fu := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(tu.Sub(fu).Hours() / 24)
}

// IsSameDay checks whether a and b fall on the same calendar day in loc.
func IsSameDay(a, b time.Time, loc *time.Location) bool {
	return DaysBetween(a, b, loc) == 0
}

// IsConsecutiveDay checks whether next falls exactly one calendar day after prev.
func IsConsecutiveDay(prev, next time.Time, loc *time.Location) bool {
	return DaysBetween(prev, next, loc) == 1
}

// FormatDay formats t as YYYY-MM-DD in loc.
func FormatDay(t time.Time, loc *time.Location) string {
	return t.In(orLocal(loc)).Format(FormatDate)
}

// ParseDay parses a YYYY-MM-DD string as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(FormatDate, s, orLocal(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return t, nil
}

// HoursSince returns the fractional hours elapsed between start and now.
// A start in the future yields zero.
func HoursSince(start, now time.Time) float64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return d.Hours()
}

// FromUnixMilli converts a Unix millisecond timestamp into a time in loc.
func FromUnixMilli(ms int64, loc *time.Location) time.Time {
	return time.UnixMilli(ms).In(orLocal(loc))
}
