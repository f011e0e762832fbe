package sessions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventConfirm    Event = "confirm"
	EventJoin       Event = "join"
	EventCancel     Event = "cancel"
	EventNoShow     Event = "no_show"
	EventEnd        Event = "end"
	EventReschedule Event = "reschedule"
)

var transitions = map[Status]map[Event]Status{
	StatusScheduled: {
		EventConfirm:    StatusConfirmed,
		EventJoin:       StatusInProgress,
		EventCancel:     StatusCancelled,
		EventNoShow:     StatusNoShow,
		EventReschedule: StatusRescheduled,
	},
	StatusConfirmed: {
		EventJoin:       StatusInProgress,
		EventCancel:     StatusCancelled,
		EventNoShow:     StatusNoShow,
		EventReschedule: StatusRescheduled,
	},
	StatusInProgress: {
		EventEnd: StatusCompleted,
	},
}

// Transition returns the status reached from `from` on event, or InvalidState.
// Guards are checked by the callers below.
func Transition(from Status, event Event) (Status, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return from, apperr.InvalidState("cannot %s a session that is %s", event, from).
		With("status", string(from))
}

// IsParticipant reports whether the actor is the session's client or therapist.
func (s *Session) IsParticipant(actor identity.Actor) bool {
	switch actor.Role {
	case identity.RoleClient:
		return actor.ID == s.ClientID
	case identity.RoleTherapist:
		return actor.ID == s.TherapistID
	}
	return false
}

// CanView reports whether the actor may read the session.
func (s *Session) CanView(actor identity.Actor) bool {
	return actor.IsAdmin() || s.IsParticipant(actor)
}

// CanBeCancelled reports whether now is before the cancellation cutoff and the
// session has not started.
func (s *Session) CanBeCancelled(now time.Time, cutoff time.Duration) bool {
	return s.Status.isUpcoming() && now.Before(s.ScheduledAt.Add(-cutoff))
}

// Confirm moves a scheduled session to confirmed. Confirming twice is a no-op.
func (s *Session) Confirm(now time.Time) error {
	if s.Status == StatusConfirmed {
		return nil
	}
	to, err := Transition(s.Status, EventConfirm)
	if err != nil {
		return err
	}
	s.Status = to
	s.UpdatedAt = now.UTC()
	return nil
}

// SetNotes replaces the therapist's notes. Only the session's therapist or an
// admin may write them, in any status.
func (s *Session) SetNotes(actor identity.Actor, notes string, now time.Time) error {
	if !actor.IsAdmin() && !(actor.IsTherapist() && actor.ID == s.TherapistID) {
		return apperr.Forbidden("only the session's therapist may write notes")
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return apperr.Validation("notes cannot be empty")
	}
	s.Notes = notes
	s.UpdatedAt = now.UTC()
	return nil
}

// Cancel applies a participant or admin cancellation before the cutoff.
func (s *Session) Cancel(actor identity.Actor, reason CancellationReason, notes string, now time.Time, cutoff time.Duration) error {
	if !actor.IsAdmin() && !s.IsParticipant(actor) {
		return apperr.Forbidden("actor may not cancel this session")
	}
	to, err := Transition(s.Status, EventCancel)
	if err != nil {
		return err
	}
	if !s.CanBeCancelled(now, cutoff) {
		return apperr.New(apperr.KindCancellationWindowClosed,
			"sessions can only be cancelled more than %s before they start", cutoff).
			With("deadline", s.ScheduledAt.Add(-cutoff))
	}
	if reason == "" {
		reason = ReasonOther
	}
	if !reason.Valid() {
		return apperr.Validation("unknown cancellation reason %q", reason)
	}
	s.Status = to
	s.Cancellation = &Cancellation{Reason: reason, Notes: notes, ActorID: actor.ID, At: now.UTC()}
	s.UpdatedAt = now.UTC()
	return nil
}

// Start promotes an upcoming session to in progress. It is a no-op when the
// session is already running.
func (s *Session) Start(now time.Time) error {
	if s.Status == StatusInProgress {
		return nil
	}
	to, err := Transition(s.Status, EventJoin)
	if err != nil {
		return err
	}
	at := now.UTC()
	s.Status = to
	s.ActualStartAt = &at
	s.UpdatedAt = at
	return nil
}

// End completes a running session. Clients may not end sessions.
func (s *Session) End(actor identity.Actor, now time.Time) error {
	switch {
	case actor.IsAdmin():
	case actor.IsTherapist() && actor.ID == s.TherapistID:
	default:
		return apperr.Forbidden("only the therapist or an admin can end a session")
	}
	to, err := Transition(s.Status, EventEnd)
	if err != nil {
		return err
	}
	end := now.UTC()
	start := end
	if s.ActualStartAt != nil {
		start = *s.ActualStartAt
	}
	minutes := int(end.Sub(start) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	s.Status = to
	s.ActualEndAt = &end
	s.ActualDurationMinutes = &minutes
	s.UpdatedAt = end
	return nil
}

// MarkNoShow flags an upcoming session nobody started within the grace
// period. It reports false when the session is not eligible.
func (s *Session) MarkNoShow(now time.Time, grace time.Duration) bool {
	if !s.Status.isUpcoming() || s.ActualStartAt != nil {
		return false
	}
	if !now.After(s.ScheduledAt.Add(grace)) {
		return false
	}
	to, err := Transition(s.Status, EventNoShow)
	if err != nil {
		return false
	}
	s.Status = to
	s.UpdatedAt = now.UTC()
	return true
}

// MarkRescheduled retires the session in favour of newID, under the same
// cutoff as cancellation.
func (s *Session) MarkRescheduled(newID uuid.UUID, now time.Time, cutoff time.Duration) error {
	to, err := Transition(s.Status, EventReschedule)
	if err != nil {
		return err
	}
	if !s.CanBeCancelled(now, cutoff) {
		return apperr.New(apperr.KindCancellationWindowClosed,
			"sessions can only be rescheduled more than %s before they start", cutoff)
	}
	id := newID
	s.Status = to
	s.RescheduledTo = &id
	s.UpdatedAt = now.UTC()
	return nil
}

// CanJoin reports whether a participant may enter the room at now.
func (s *Session) CanJoin(now time.Time, control JoinControl) bool {
	return !s.IsTerminal() && control.Window(s).Contains(now)
}
