package utils

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DayLayout is the calendar-date format used in URLs and SQL filters
const DayLayout = "2006-01-02"

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.RFC3339Nano,
	DayLayout,
}

// ParseTimestamp parses a timestamp and keeps its wall clock.
// The counting data carries local time without an offset, so every result
// is expressed in UTC with the written hour and minute preserved.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return WallClock(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// WallClock re-expresses t's wall clock in UTC
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// ParseDay parses a YYYY-MM-DD calendar date
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", s)
	}
	return t, nil
}

// TruncateDay returns midnight (UTC) of t's calendar date
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders t's calendar date
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// SameDay reports whether a and b fall on the same calendar date
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Yesterday returns the calendar date before now
func Yesterday(now time.Time) time.Time {
	return TruncateDay(now).AddDate(0, 0, -1)
}

// RoundTo rounds a float to specified decimal places
func RoundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
