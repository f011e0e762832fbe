package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// Type is the kind of therapy session.
type Type string

const (
	TypeIndividual  Type = "individual"
	TypeGroup       Type = "group"
	TypeFamily      Type = "family"
	TypeSupervision Type = "supervision"
	TypeTraining    Type = "training"
)

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	switch t {
	case TypeIndividual, TypeGroup, TypeFamily, TypeSupervision, TypeTraining:
		return true
	}
	return false
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
	StatusCancelled, StatusNoShow, StatusRescheduled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports statuses that admit no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// IsActive reports statuses that occupy the therapist's calendar.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusInProgress
}

// isUpcoming reports statuses that have not started yet.
func (s Status) isUpcoming() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// CancellationReason categorizes why a session was cancelled.
type CancellationReason string

const (
	ReasonClientRequest        CancellationReason = "client_request"
	ReasonTherapistUnavailable CancellationReason = "therapist_unavailable"
	ReasonEmergency            CancellationReason = "emergency"
	ReasonTechnicalIssues      CancellationReason = "technical_issues"
	ReasonOther                CancellationReason = "other"
)

// Valid reports whether r is a known reason.
func (r CancellationReason) Valid() bool {
	switch r {
	case ReasonClientRequest, ReasonTherapistUnavailable, ReasonEmergency, ReasonTechnicalIssues, ReasonOther:
		return true
	}
	return false
}

// Cancellation records who cancelled a session and why.
type Cancellation struct {
	Reason  CancellationReason `json:"reason"`
	Notes   string             `json:"notes,omitempty"`
	ActorID uuid.UUID          `json:"actor_id"`
	At      time.Time          `json:"at"`
}

// Meeting holds the video room credentials.
type Meeting struct {
	Link     string `json:"link,omitempty"`
	ID       string `json:"id,omitempty"`
	Password string `json:"password,omitempty"`
}

// Reminders tracks which notices have gone out.
type Reminders struct {
	Confirmation bool `json:"confirmation_sent"`
	Day          bool `json:"reminder_sent_24h"`
	Hour         bool `json:"reminder_sent_1h"`
}

// Session is a booked appointment between a client and a therapist.
type Session struct {
	ID                    uuid.UUID     `json:"id"`
	Type                  Type          `json:"session_type"`
	ClientID              uuid.UUID     `json:"client_id"`
	TherapistID           uuid.UUID     `json:"therapist_id"`
	SlotID                uuid.UUID     `json:"slot_id"`
	ScheduledAt           time.Time     `json:"scheduled_at"`
	DurationMinutes       int           `json:"duration_minutes"`
	Timezone              string        `json:"timezone"`
	Title                 string        `json:"title,omitempty"`
	Notes                 string        `json:"notes,omitempty"`
	Status                Status        `json:"status"`
	ActualStartAt         *time.Time    `json:"actual_start_at,omitempty"`
	ActualEndAt           *time.Time    `json:"actual_end_at,omitempty"`
	ActualDurationMinutes *int          `json:"actual_duration_minutes,omitempty"`
	Cancellation          *Cancellation `json:"cancellation,omitempty"`
	Meeting               Meeting       `json:"meeting"`
	PaymentRef            string        `json:"payment_ref,omitempty"`
	Reminders             Reminders     `json:"reminders"`
	RescheduledFrom       *uuid.UUID    `json:"rescheduled_from,omitempty"`
	RescheduledTo         *uuid.UUID    `json:"rescheduled_to,omitempty"`
	ExtensionsUsed        int           `json:"extensions_used"`
	ExtendedMinutes       int           `json:"extended_minutes"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// ScheduledEnd is the booked end, before extensions.
func (s *Session) ScheduledEnd() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Interval is the time the session occupies, including approved extensions.
func (s *Session) Interval() timewindow.Interval {
	return timewindow.Interval{
		Start: s.ScheduledAt,
		End:   s.ScheduledEnd().Add(time.Duration(s.ExtendedMinutes) * time.Minute),
	}
}

// IsTerminal reports whether the session has finished its lifecycle.
func (s *Session) IsTerminal() bool { return s.Status.IsTerminal() }

// Rules are the timing constants of the session lifecycle.
type Rules struct {
	CancelCutoff     time.Duration
	NoShowGrace      time.Duration
	EarlyJoin        time.Duration
	LateJoin         time.Duration
	ExtensionMinutes int
	MaxExtensions    int
}

// DefaultRules returns the standard practice rules.
func DefaultRules() Rules {
	return Rules{
		CancelCutoff:     30 * time.Hour,
		NoShowGrace:      15 * time.Minute,
		EarlyJoin:        5 * time.Minute,
		LateJoin:         30 * time.Minute,
		ExtensionMinutes: 10,
		MaxExtensions:    3,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.CancelCutoff <= 0 {
		r.CancelCutoff = d.CancelCutoff
	}
	if r.NoShowGrace <= 0 {
		r.NoShowGrace = d.NoShowGrace
	}
	if r.EarlyJoin < 0 {
		r.EarlyJoin = d.EarlyJoin
	}
	if r.LateJoin <= 0 {
		r.LateJoin = d.LateJoin
	}
	if r.ExtensionMinutes <= 0 {
		r.ExtensionMinutes = d.ExtensionMinutes
	}
	if r.MaxExtensions <= 0 {
		r.MaxExtensions = d.MaxExtensions
	}
	return r
}
