// Package timewindow holds the interval and civil-date arithmetic shared by
// availability, sessions and join control.
package timewindow

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
	// ClockLayout is the wire format for wall-clock times.
	ClockLayout = "15:04"
)

// ErrInvalidInterval is returned when an interval does not end after it starts.
var ErrInvalidInterval = errors.New("timewindow: end must be after start")

// Window is a closed interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Around builds [anchor-before, anchor+after].
func Around(anchor time.Time, before, after time.Duration) Window {
	return Window{Start: anchor.Add(-before), End: anchor.Add(after)}
}

// Contains reports whether Start <= t <= End.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Before reports whether t falls before the window opens.
func (w Window) Before(t time.Time) bool { return t.Before(w.Start) }

// After reports whether t falls after the window closes.
func (w Window) After(t time.Time) bool { return t.After(w.End) }

// Interval is a half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval validates and returns [start, end).
func NewInterval(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals share any instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Covers reports whether o lies entirely inside i.
func (i Interval) Covers(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// DayStart truncates t to local midnight in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// AddDays moves a civil date by n calendar days, keeping midnight across DST.
func AddDays(day time.Time, n int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+n, 0, 0, 0, 0, day.Location())
}

// SameDay reports whether a and b share a calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DayStart(a, loc).Equal(DayStart(b, loc))
}

// Combine joins a calendar date with a wall-clock offset from midnight in loc.
func Combine(date time.Time, clock time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	h := int(clock / time.Hour)
	m := int((clock % time.Hour) / time.Minute)
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timewindow: parse date %q: %w", s, err)
	}
	return d, nil
}

// ParseClock parses HH:MM (or HH:MM:SS) into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		t, err = time.Parse("15:04:05", s)
		if err != nil {
			return 0, fmt.Errorf("timewindow: parse clock %q: %w", s, err)
		}
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as HH:MM.
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}

// ClockOf returns the wall-clock offset of t in loc.
func ClockOf(t time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Duration(lt.Hour())*time.Hour + time.Duration(lt.Minute())*time.Minute
}

// MinutesUntil returns whole minutes from now to t, rounded up. Zero when t has passed.
func MinutesUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}
