package domain

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // harbor timezones must resolve on minimal images
)

// DateFormat is the layout of every cache date key.
const DateFormat = "2006-01-02"

// DefaultTimezone is the civil timezone of SHOM harbors in metropolitan France.
const DefaultTimezone = "Europe/Paris"

// ErrInvalidDate is returned for date strings that are not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date")

// Calendar days are represented as midnight UTC so arithmetic never crosses
// a DST transition.

// ParseDate parses a YYYY-MM-DD key into a calendar day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// FormatDate renders a calendar day as a cache key.
func FormatDate(d time.Time) string {
	return d.Format(DateFormat)
}

// LocalDay returns the calendar day of t in loc.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FirstOfMonth returns the first day of d's month.
func FirstOfMonth(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar day.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// DateRange returns days consecutive keys starting at start.
func DateRange(start time.Time, days int) []string {
	out := make([]string, 0, max(days, 0))
	for i := 0; i < days; i++ {
		out = append(out, FormatDate(start.AddDate(0, 0, i)))
	}
	return out
}

// LocalInstant combines a date key and a wall-clock time in loc. Accepted
// time layouts are HH:MM and HH:MM:SS.
func LocalInstant(date, clockTime string, loc *time.Location) (time.Time, error) {
	layout := DateFormat + " 15:04"
	if len(clockTime) == len("15:04:05") {
		layout = DateFormat + " 15:04:05"
	}
	t, err := time.ParseInLocation(layout, date+" "+clockTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local time %q %q: %w", date, clockTime, err)
	}
	return t, nil
}

// LoadLocation resolves a timezone name, falling back to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
