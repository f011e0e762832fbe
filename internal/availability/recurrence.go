package availability

import (
	"time"

	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
)

// occurrences lists the civil dates a slot is published on. Recurring series
// stop at the inclusive end date or at horizon past the first date, whichever
// comes first. Monthly series skip months without the anchor day.
func occurrences(first time.Time, rec Recurrence, horizon time.Duration) ([]time.Time, error) {
	first = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)

	switch rec.Type {
	case "", RecurrenceNone:
		return []time.Time{first}, nil
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
	default:
		return nil, apperr.Validation("unknown recurrence type %q", rec.Type)
	}

	limit := first.Add(horizon)
	if rec.EndDate != nil {
		end := time.Date(rec.EndDate.Year(), rec.EndDate.Month(), rec.EndDate.Day(), 0, 0, 0, 0, time.UTC)
		if end.Before(first) {
			return nil, apperr.Validation("recurrence end date precedes the first occurrence")
		}
		if end.Before(limit) {
			limit = end
		}
	}

	var dates []time.Time
	for k := 0; ; k++ {
		var next time.Time
		switch rec.Type {
		case RecurrenceDaily:
			next = first.AddDate(0, 0, k)
		case RecurrenceWeekly:
			next = first.AddDate(0, 0, 7*k)
		case RecurrenceMonthly:
			next = time.Date(first.Year(), first.Month()+time.Month(k), first.Day(), 0, 0, 0, 0, time.UTC)
			if next.Day() != first.Day() {
				if next.After(limit) {
					return dates, nil
				}
				continue
			}
		}
		if next.After(limit) {
			return dates, nil
		}
		dates = append(dates, next)
	}
}
