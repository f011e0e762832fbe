package availability

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// BusyLister reports the intervals a therapist is already committed to by
// active sessions.
type BusyLister interface {
	BusyIntervals(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]timewindow.Interval, error)
}

// FindAvailableSlots yields candidate start instants on date for a session of
// durationMinutes. Candidates step through each available slot, end inside it,
// and skip anything that overlaps a booked or blocked slot or an active session.
// Storage is read up front; the returned sequence is lazy and finite.
func (s *Service) FindAvailableSlots(ctx context.Context, therapistID uuid.UUID, date time.Time, durationMinutes int) (iter.Seq[time.Time], error) {
	if durationMinutes <= 0 {
		return nil, apperr.Validation("duration must be positive")
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	slots, err := s.store.ListByTherapist(ctx, therapistID, day, day)
	if err != nil {
		return nil, err
	}

	var windows []timewindow.Interval
	var blockers []timewindow.Interval
	for _, slot := range slots {
		switch slot.Status {
		case StatusAvailable:
			windows = append(windows, slot.Interval())
		case StatusBooked, StatusBlocked:
			blockers = append(blockers, slot.Interval())
		}
	}
	if len(windows) == 0 {
		return func(func(time.Time) bool) {}, nil
	}

	if s.busy != nil {
		from := timewindow.Combine(day, 0, s.opts.Location)
		busy, err := s.busy.BusyIntervals(ctx, therapistID, from, timewindow.AddDays(from, 1))
		if err != nil {
			return nil, err
		}
		blockers = append(blockers, busy...)
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
	length := time.Duration(durationMinutes) * time.Minute
	step := s.opts.Step

	return func(yield func(time.Time) bool) {
		for _, w := range windows {
			for start := w.Start; !start.Add(length).After(w.End); start = start.Add(step) {
				candidate := timewindow.Interval{Start: start, End: start.Add(length)}
				if overlapsAny(candidate, blockers) {
					continue
				}
				if !yield(start) {
					return
				}
			}
		}
	}, nil
}

// CollectAvailable drains FindAvailableSlots into a slice.
func (s *Service) CollectAvailable(ctx context.Context, therapistID uuid.UUID, date time.Time, durationMinutes int) ([]time.Time, error) {
	seq, err := s.FindAvailableSlots(ctx, therapistID, date, durationMinutes)
	if err != nil {
		return nil, err
	}
	out := []time.Time{}
	for t := range seq {
		out = append(out, t)
	}
	return out, nil
}

func overlapsAny(candidate timewindow.Interval, blockers []timewindow.Interval) bool {
	for _, b := range blockers {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
