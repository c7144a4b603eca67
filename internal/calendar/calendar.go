// Package calendar maps instants onto civil days of the operating timezone.
//
// A civil day is represented as a time.Time at 00:00 UTC carrying the
// year/month/day of the operating timezone, so days compare, sort and key
// maps without timezone surprises.
package calendar

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const DateLayout = "2006-01-02"

type Calendar struct {
	loc *time.Location
	now func() time.Time
}

func New(timezone string, now func() time.Time) (*Calendar, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Calendar{loc: loc, now: now}, nil
}

// MustUTC is a UTC calendar driven by now; used by tests and tools.
func MustUTC(now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	return &Calendar{loc: time.UTC, now: now}
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) Now() time.Time {
	return c.now()
}

func (c *Calendar) Today() time.Time {
	return c.DayOf(c.now())
}

func (c *Calendar) Yesterday() time.Time {
	return c.Today().AddDate(0, 0, -1)
}

// DayOf returns the civil day the instant t falls on in the operating timezone.
func (c *Calendar) DayOf(t time.Time) time.Time {
	local := t.In(c.loc)
	return Day(local.Year(), local.Month(), local.Day())
}

// IsClosed reports whether day lies fully in the past.
func (c *Calendar) IsClosed(day time.Time) bool {
	return Normalize(day).Before(c.Today())
}

// StartOf returns the first instant of day in the operating timezone.
func (c *Calendar) StartOf(day time.Time) time.Time {
	day = Normalize(day)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
}

// EndOf returns the exclusive upper bound of day, i.e. the start of the next day.
func (c *Calendar) EndOf(day time.Time) time.Time {
	return c.StartOf(Normalize(day).AddDate(0, 0, 1))
}

func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Normalize drops any clock component and rebases the day on UTC.
func Normalize(day time.Time) time.Time {
	return Day(day.Year(), day.Month(), day.Day())
}

func Parse(raw string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return Normalize(parsed), nil
}

func Format(day time.Time) string {
	return Normalize(day).Format(DateLayout)
}

// DaysBetween returns to - from in whole days.
func DaysBetween(from time.Time, to time.Time) int {
	return int(Normalize(to).Sub(Normalize(from)).Hours() / 24)
}
