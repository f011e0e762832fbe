package availability

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// Status is the lifecycle state of an availability slot.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
	StatusBlocked   Status = "blocked"
	StatusTentative Status = "tentative"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBooked, StatusBlocked, StatusTentative:
		return true
	}
	return false
}

// RecurrenceType controls how a slot repeats.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

// Recurrence describes a repeating slot. EndDate is an inclusive civil date.
type Recurrence struct {
	Type    RecurrenceType `json:"type"`
	EndDate *time.Time     `json:"end_date,omitempty"`
}

// Slot is a window a therapist offers for booking.
type Slot struct {
	ID              uuid.UUID  `json:"id"`
	TherapistID     uuid.UUID  `json:"therapist_id"`
	Date            time.Time  `json:"date"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          time.Time  `json:"ends_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          Status     `json:"status"`
	Recurrence      Recurrence `json:"recurrence"`
	SessionID       *uuid.UUID `json:"session_id,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Interval returns the slot as a half-open range.
func (s Slot) Interval() timewindow.Interval {
	return timewindow.Interval{Start: s.StartsAt, End: s.EndsAt}
}

// CreateSlotInput is a request to publish one slot, optionally recurring.
// StartTime and EndTime are offsets from local midnight in the practice timezone.
type CreateSlotInput struct {
	TherapistID uuid.UUID
	Date        time.Time
	StartTime   time.Duration
	EndTime     time.Duration
	Status      Status
	Recurrence  Recurrence
	Notes       string
}

// PatchAction selects how ModifySlot changes a slot.
type PatchAction string

const (
	ActionUpdate  PatchAction = "update"
	ActionBlock   PatchAction = "block"
	ActionUnblock PatchAction = "unblock"
)

// DefaultBlockReason is stored when a slot is blocked without a reason.
const DefaultBlockReason = "Blocked by therapist"

// SlotPatch is a modification request.
type SlotPatch struct {
	Action    PatchAction
	StartTime *time.Duration
	EndTime   *time.Duration
	Notes     *string
	Reason    string
}

// SlotView decorates a slot with whether it can still be changed.
type SlotView struct {
	Slot
	CanBeModified bool `json:"can_be_modified"`
}
