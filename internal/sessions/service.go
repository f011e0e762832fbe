package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Service applies lifecycle rules to stored sessions.
type Service struct {
	store    Store
	rules    Rules
	meetings MeetingProvider
	logger   *logging.Logger
}

// NewService wires a session service.
func NewService(store Store, rules Rules, meetings MeetingProvider, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, rules: rules.withDefaults(), meetings: meetings, logger: logger}
}

// Rules returns the effective lifecycle rules.
func (s *Service) Rules() Rules { return s.rules }

// Create stores a new session with its join record.
func (s *Service) Create(ctx context.Context, sess *Session) (*JoinControl, error) {
	control := NewJoinControl(sess.ID, s.rules)
	if err := s.store.Create(ctx, sess, &control); err != nil {
		return nil, err
	}
	return &control, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.store.Get(ctx, id)
}

// GetWithControl loads a session and its join record.
func (s *Service) GetWithControl(ctx context.Context, id uuid.UUID) (*Session, *JoinControl, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	control, err := s.store.GetJoinControl(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, control, nil
}

// Confirm marks a scheduled session confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor identity.Actor, now time.Time) (*Session, error) {
	sess, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		if !sess.CanView(actor) {
			return apperr.Forbidden("actor may not confirm this session")
		}
		return sess.Confirm(now)
	})
	return sess, err
}

// Join admits actor, provisioning the room on the first successful join.
func (s *Service) Join(ctx context.Context, id uuid.UUID, actor identity.Actor, now time.Time) (*Session, *JoinControl, error) {
	return s.store.Update(ctx, id, func(sess *Session, c *JoinControl) error {
		if err := RecordJoin(sess, c, actor, now); err != nil {
			return err
		}
		return EnsureMeetingRoom(ctx, sess, c, s.meetings)
	})
}

// RequestExtension grants one more block of minutes to a running session.
func (s *Service) RequestExtension(ctx context.Context, sessionID uuid.UUID, requester identity.Actor, reason string, now time.Time) (*Session, ExtensionResult, error) {
	var result ExtensionResult
	sess, _, err := s.store.AppendExtension(ctx, sessionID, func(sess *Session, prior int) (*Extension, error) {
		ext, res, err := grantExtension(sess, prior, requester, reason, now, s.rules)
		if err != nil {
			return nil, err
		}
		result = res
		return ext, nil
	})
	if err != nil {
		return nil, ExtensionResult{}, err
	}
	return sess, result, nil
}

// Extensions lists the grants recorded for a session.
func (s *Service) Extensions(ctx context.Context, sessionID uuid.UUID) ([]Extension, error) {
	return s.store.ListExtensions(ctx, sessionID)
}

// End completes a running session.
func (s *Service) End(ctx context.Context, id uuid.UUID, actor identity.Actor, now time.Time) (*Session, error) {
	sess, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		return sess.End(actor, now)
	})
	return sess, err
}

// Cancel cancels an upcoming session before the cutoff.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Actor, reason CancellationReason, notes string, now time.Time) (*Session, error) {
	sess, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		return sess.Cancel(actor, reason, notes, now, s.rules.CancelCutoff)
	})
	return sess, err
}

// UpdateNotes sets or replaces the session notes.
func (s *Service) UpdateNotes(ctx context.Context, id uuid.UUID, actor identity.Actor, notes string, now time.Time) (*Session, error) {
	sess, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		return sess.SetNotes(actor, notes, now)
	})
	return sess, err
}

// CheckReschedulable verifies the session may still be moved by actor.
func (s *Service) CheckReschedulable(sess *Session, actor identity.Actor, now time.Time) error {
	if !actor.IsAdmin() && !sess.IsParticipant(actor) {
		return apperr.Forbidden("actor may not reschedule this session")
	}
	if _, err := Transition(sess.Status, EventReschedule); err != nil {
		return err
	}
	if !sess.CanBeCancelled(now, s.rules.CancelCutoff) {
		return apperr.New(apperr.KindCancellationWindowClosed,
			"sessions can only be rescheduled more than %s before they start", s.rules.CancelCutoff)
	}
	return nil
}

// MarkRescheduled retires id in favour of newID.
func (s *Service) MarkRescheduled(ctx context.Context, id, newID uuid.UUID, now time.Time) (*Session, error) {
	sess, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		return sess.MarkRescheduled(newID, now, s.rules.CancelCutoff)
	})
	return sess, err
}

// Discard cancels a replacement session that never took effect.
func (s *Service) Discard(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		sess.Status = StatusCancelled
		sess.Cancellation = &Cancellation{Reason: ReasonTechnicalIssues, Notes: "reschedule aborted", At: now.UTC()}
		sess.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

// SweepNoShows flags every eligible session and returns those it changed.
func (s *Service) SweepNoShows(ctx context.Context, now time.Time) ([]Session, error) {
	candidates, err := s.store.ListNoShowCandidates(ctx, now.Add(-s.rules.NoShowGrace))
	if err != nil {
		return nil, err
	}
	var flagged []Session
	for _, c := range candidates {
		changed := false
		sess, _, err := s.store.Update(ctx, c.ID, func(sess *Session, _ *JoinControl) error {
			changed = sess.MarkNoShow(now, s.rules.NoShowGrace)
			return nil
		})
		if err != nil {
			s.logger.Error("no-show update failed", "session_id", c.ID, "error", err)
			continue
		}
		if changed {
			flagged = append(flagged, *sess)
		}
	}
	return flagged, nil
}

// ReminderKind selects which reminder flag to set.
type ReminderKind string

const (
	ReminderConfirmation ReminderKind = "confirmation"
	ReminderDay          ReminderKind = "24h"
	ReminderHour         ReminderKind = "1h"
)

// MarkReminderSent sets a reminder flag. It reports false when the flag was already set.
func (s *Service) MarkReminderSent(ctx context.Context, id uuid.UUID, kind ReminderKind) (bool, error) {
	changed := false
	_, _, err := s.store.Update(ctx, id, func(sess *Session, _ *JoinControl) error {
		var flag *bool
		switch kind {
		case ReminderConfirmation:
			flag = &sess.Reminders.Confirmation
		case ReminderDay:
			flag = &sess.Reminders.Day
		case ReminderHour:
			flag = &sess.Reminders.Hour
		default:
			return apperr.Validation("unknown reminder kind %q", kind)
		}
		if *flag {
			return nil
		}
		*flag = true
		changed = true
		return nil
	})
	return changed, err
}

// ReminderCandidates lists upcoming sessions starting in [from, to].
func (s *Service) ReminderCandidates(ctx context.Context, from, to time.Time) ([]Session, error) {
	return s.store.ListReminderCandidates(ctx, from, to)
}

// List returns sessions matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Session, error) {
	return s.store.List(ctx, f)
}

// BusyIntervals reports the time claimed by the therapist's active sessions
// overlapping [from, to).
func (s *Service) BusyIntervals(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]timewindow.Interval, error) {
	// Widen the lower bound so sessions that started the previous evening are included.
	list, err := s.store.List(ctx, Filter{
		TherapistID: therapistID,
		From:        from.Add(-24 * time.Hour),
		To:          to,
		Statuses:    []Status{StatusScheduled, StatusConfirmed, StatusInProgress},
	})
	if err != nil {
		return nil, err
	}
	window := timewindow.Interval{Start: from, End: to}
	var out []timewindow.Interval
	for i := range list {
		iv := list[i].Interval()
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out, nil
}
