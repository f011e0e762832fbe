package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
)

// Kind names a scheduling notice.
type Kind string

const (
	KindBookingConfirmation Kind = "booking_confirmation"
	KindCancellation        Kind = "session_cancelled"
	KindReschedule          Kind = "session_rescheduled"
	KindExtension           Kind = "session_extended"
	KindReminderDay         Kind = "reminder_24h"
	KindReminderHour        Kind = "reminder_1h"
)

// Notice is one scheduling event that participants should hear about.
type Notice struct {
	Kind      Kind
	Session   sessions.Session
	Previous  *sessions.Session
	Extension *sessions.ExtensionResult
}

// Recipients returns the participant ids the notice is addressed to.
func (n Notice) Recipients() []uuid.UUID {
	if n.Kind == KindExtension {
		return []uuid.UUID{n.Session.ClientID}
	}
	return []uuid.UUID{n.Session.ClientID, n.Session.TherapistID}
}

func (n Notice) localStart() time.Time {
	if loc, err := time.LoadLocation(n.Session.Timezone); err == nil && n.Session.Timezone != "" {
		return n.Session.ScheduledAt.In(loc)
	}
	return n.Session.ScheduledAt.UTC()
}
