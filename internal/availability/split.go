package availability

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// carve books part of an available slot. The claimed piece keeps the slot's
// id; whatever lies before and after part becomes new available slots.
func carve(slot Slot, sessionID uuid.UUID, part timewindow.Interval, now time.Time) (Slot, []Slot, error) {
	if slot.Status != StatusAvailable {
		return Slot{}, nil, apperr.New(apperr.KindSlotNotAvailable, "slot %s is %s", slot.ID, slot.Status)
	}
	if !part.Start.Before(part.End) || part.Start.Before(slot.StartsAt) || part.End.After(slot.EndsAt) {
		return Slot{}, nil, apperr.New(apperr.KindSlotNotAvailable,
			"slot %s no longer covers %s to %s", slot.ID, part.Start.Format(time.RFC3339), part.End.Format(time.RFC3339))
	}

	var rest []Slot
	if part.Start.After(slot.StartsAt) {
		rest = append(rest, piece(slot, slot.StartsAt, part.Start, now))
	}
	if part.End.Before(slot.EndsAt) {
		rest = append(rest, piece(slot, part.End, slot.EndsAt, now))
	}

	sid := sessionID
	claimed := slot
	claimed.StartsAt = part.Start.UTC()
	claimed.EndsAt = part.End.UTC()
	claimed.DurationMinutes = minutesBetween(claimed.StartsAt, claimed.EndsAt)
	claimed.Status = StatusBooked
	claimed.SessionID = &sid
	claimed.UpdatedAt = now.UTC()
	return claimed, rest, nil
}

func piece(from Slot, start, end, now time.Time) Slot {
	return Slot{
		ID:              uuid.New(),
		TherapistID:     from.TherapistID,
		Date:            from.Date,
		StartsAt:        start.UTC(),
		EndsAt:          end.UTC(),
		DurationMinutes: minutesBetween(start, end),
		Status:          StatusAvailable,
		Recurrence:      from.Recurrence,
		Notes:           from.Notes,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
}

func minutesBetween(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}
