// Package scheduling composes slots and sessions into the booking, joining,
// extension and cancellation flows exposed to API callers.
package scheduling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/config"
	"github.com/wolfman30/teletherapy-scheduler/internal/events"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/notify"
	"github.com/wolfman30/teletherapy-scheduler/internal/observability/metrics"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

var tracer = otel.Tracer("teletherapy/scheduling")

const sideEffectTimeout = 15 * time.Second

// Deps are the collaborators of an Orchestrator. Only Slots and Sessions are
// required.
type Deps struct {
	Slots     *availability.Service
	Sessions  *sessions.Service
	Clock     timewindow.Clock
	Policy    config.Policy
	Notifier  Notifier
	Publisher Publisher
	Audit     AuditLogger
	Stats     TherapistStats
	Payments  PaymentGate
	Metrics   *metrics.SchedulingMetrics
	Logger    *logging.Logger
}

// Orchestrator is the scheduling façade.
type Orchestrator struct {
	slots     *availability.Service
	sessions  *sessions.Service
	clock     timewindow.Clock
	policy    config.Policy
	notifier  Notifier
	publisher Publisher
	audit     AuditLogger
	stats     TherapistStats
	payments  PaymentGate
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger

	effects sync.WaitGroup
}

// New wires an orchestrator, filling optional collaborators with no-ops.
func New(d Deps) *Orchestrator {
	if d.Slots == nil || d.Sessions == nil {
		panic("scheduling: slot and session services required")
	}
	if d.Clock == nil {
		d.Clock = timewindow.SystemClock{}
	}
	if d.Policy.Location == nil {
		d.Policy = config.DefaultPolicy()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Publisher == nil {
		d.Publisher = nopPublisher{}
	}
	if d.Audit == nil {
		d.Audit = nopAudit{}
	}
	if d.Stats == nil {
		d.Stats = NewMemoryTherapistStats()
	}
	if d.Payments == nil {
		d.Payments = ReferenceGate{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return &Orchestrator{
		slots:     d.Slots,
		sessions:  d.Sessions,
		clock:     d.Clock,
		policy:    d.Policy,
		notifier:  d.Notifier,
		publisher: d.Publisher,
		audit:     d.Audit,
		stats:     d.Stats,
		payments:  d.Payments,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// Wait blocks until every pending side effect has finished.
func (o *Orchestrator) Wait() { o.effects.Wait() }

// Policy returns the scheduling policy in force.
func (o *Orchestrator) Policy() config.Policy { return o.policy }

// BookingRequest asks for a session starting at Date + StartTime in the
// practice timezone.
type BookingRequest struct {
	ClientID        uuid.UUID
	TherapistID     uuid.UUID
	Date            time.Time
	StartTime       time.Duration
	DurationMinutes int
	Type            sessions.Type
	PaymentRef      string
	Timezone        string
	Title           string
	Notes           string
}

// BookSession claims the matching slot and creates a scheduled session.
func (o *Orchestrator) BookSession(ctx context.Context, actor identity.Actor, req BookingRequest) (_ *sessions.Session, err error) {
	ctx, span := o.start(ctx, "book")
	defer o.finish(span, "book", time.Now(), &err)
	span.SetAttributes(attribute.String("therapist.id", req.TherapistID.String()))

	if actor.IsClient() && req.ClientID == uuid.Nil {
		req.ClientID = actor.ID
	}
	if req.ClientID == uuid.Nil || req.TherapistID == uuid.Nil {
		return nil, apperr.Validation("client_id and therapist_id are required")
	}
	switch {
	case actor.IsAdmin():
	case actor.IsClient() && actor.ID == req.ClientID:
	case actor.IsTherapist() && actor.ID == req.TherapistID:
	default:
		return nil, apperr.Forbidden("actor may not book on behalf of this client")
	}
	if req.Type == "" {
		req.Type = sessions.TypeIndividual
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation("unknown session type %q", req.Type)
	}
	if req.DurationMinutes < 0 {
		return nil, apperr.Validation("duration must be positive")
	}

	now := o.clock.Now()
	startsAt := timewindow.Combine(req.Date, req.StartTime, o.policy.Location).UTC()
	if err := o.checkNotice(now, startsAt); err != nil {
		return nil, err
	}
	if o.policy.RequirePayment {
		if err := o.payments.Verify(ctx, req.ClientID, req.PaymentRef); err != nil {
			return nil, err
		}
	}

	slot, err := o.slots.FindSlotAt(ctx, req.TherapistID, startsAt)
	if err != nil {
		return nil, err
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = int(slot.EndsAt.Sub(startsAt) / time.Minute)
	}
	if err := fits(slot, startsAt, req.DurationMinutes); err != nil {
		return nil, err
	}

	sess := &sessions.Session{
		ID:              uuid.New(),
		Type:            req.Type,
		ClientID:        req.ClientID,
		TherapistID:     req.TherapistID,
		SlotID:          slot.ID,
		ScheduledAt:     startsAt,
		DurationMinutes: req.DurationMinutes,
		Timezone:        o.timezone(req.Timezone),
		Title:           req.Title,
		Notes:           req.Notes,
		Status:          sessions.StatusScheduled,
		PaymentRef:      req.PaymentRef,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if err := o.claimAndCreate(ctx, slot.ID, sess, sessionWindow(startsAt, req.DurationMinutes)); err != nil {
		return nil, err
	}

	o.logger.Info("session booked",
		"session_id", sess.ID,
		"therapist_id", sess.TherapistID,
		"slot_id", slot.ID,
		"scheduled_at", sess.ScheduledAt,
	)
	booked := *sess
	o.sideEffect(ctx, "notifier", func(ctx context.Context) error {
		if err := o.notifier.Notify(ctx, notify.Notice{Kind: notify.KindBookingConfirmation, Session: booked}); err != nil {
			return err
		}
		_, err := o.sessions.MarkReminderSent(ctx, booked.ID, sessions.ReminderConfirmation)
		return err
	})
	o.publish(ctx, events.SessionBooked, sess, actor, nil)
	return sess, nil
}

// claimAndCreate books slotID for sess and stores it, releasing the slot if
// the session cannot be stored.
func (o *Orchestrator) claimAndCreate(ctx context.Context, slotID uuid.UUID, sess *sessions.Session, part timewindow.Interval) error {
	if _, err := o.slots.ClaimWithin(ctx, slotID, sess.ID, part); err != nil {
		return err
	}
	if _, err := o.sessions.Create(ctx, sess); err != nil {
		if relErr := o.slots.ReleaseSlot(context.WithoutCancel(ctx), sess.ID); relErr != nil {
			o.logger.Error("slot release after failed booking", "slot_id", slotID, "session_id", sess.ID, "error", relErr)
			return errors.Join(err, relErr)
		}
		return err
	}
	return nil
}

// JoinResult is what a participant needs to enter the room.
type JoinResult struct {
	Meeting     sessions.Meeting     `json:"meeting"`
	Status      sessions.Status      `json:"status"`
	Permissions sessions.Permissions `json:"permissions"`
}

// JoinSession admits actor and returns the room credentials.
func (o *Orchestrator) JoinSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor) (_ *JoinResult, err error) {
	ctx, span := o.start(ctx, "join")
	defer o.finish(span, "join", time.Now(), &err)
	span.SetAttributes(attribute.String("session.id", sessionID.String()), attribute.String("actor.role", string(actor.Role)))

	now := o.clock.Now()
	before, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, control, err := o.sessions.Join(ctx, sessionID, actor, now)
	if err != nil {
		return nil, err
	}

	if actor.IsAdmin() {
		admitted := *sess
		o.sideEffect(ctx, "audit", func(ctx context.Context) error {
			return o.audit.LogAdminJoin(ctx, &admitted, actor)
		})
	}
	if before.Status != sess.Status {
		o.logger.Info("session started", "session_id", sess.ID, "actor_role", string(actor.Role))
	}
	o.publish(ctx, events.SessionJoined, sess, actor, map[string]any{"role": string(actor.Role)})

	return &JoinResult{
		Meeting:     sess.Meeting,
		Status:      sess.Status,
		Permissions: sessions.ComputePermissions(sess, *control, now),
	}, nil
}

// ExtendSession grants the running session one more extension block.
func (o *Orchestrator) ExtendSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor, reason string) (_ sessions.ExtensionResult, err error) {
	ctx, span := o.start(ctx, "extend")
	defer o.finish(span, "extend", time.Now(), &err)
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	sess, result, err := o.sessions.RequestExtension(ctx, sessionID, actor, reason, o.clock.Now())
	if err != nil {
		return sessions.ExtensionResult{}, err
	}
	o.logger.Info("session extended",
		"session_id", sessionID,
		"extensions_used", result.Used,
		"remaining", result.Remaining,
	)

	extended := *sess
	o.sideEffect(ctx, "notifier", func(ctx context.Context) error {
		return o.notifier.Notify(ctx, notify.Notice{Kind: notify.KindExtension, Session: extended, Extension: &result})
	})
	o.sideEffect(ctx, "audit", func(ctx context.Context) error {
		return o.audit.LogExtension(ctx, &extended, result.Extension, actor)
	})
	o.publish(ctx, events.SessionExtended, sess, actor, map[string]any{
		"extensions_used":        result.Used,
		"total_extended_minutes": result.TotalMinutes,
		"remaining_extensions":   result.Remaining,
	})
	return result, nil
}

// SessionSummary describes a completed session.
type SessionSummary struct {
	SessionID             uuid.UUID       `json:"session_id"`
	Status                sessions.Status `json:"status"`
	ScheduledAt           time.Time       `json:"scheduled_at"`
	ScheduledMinutes      int             `json:"scheduled_minutes"`
	ActualStartAt         *time.Time      `json:"actual_start_at,omitempty"`
	ActualEndAt           *time.Time      `json:"actual_end_at,omitempty"`
	ActualDurationMinutes int             `json:"actual_duration_minutes"`
	ExtensionsUsed        int             `json:"extensions_used"`
	ExtendedMinutes       int             `json:"extended_minutes"`
}

// EndSession completes a running session.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor) (_ *SessionSummary, err error) {
	ctx, span := o.start(ctx, "end")
	defer o.finish(span, "end", time.Now(), &err)
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	sess, err := o.sessions.End(ctx, sessionID, actor, o.clock.Now())
	if err != nil {
		return nil, err
	}
	summary := &SessionSummary{
		SessionID:        sess.ID,
		Status:           sess.Status,
		ScheduledAt:      sess.ScheduledAt,
		ScheduledMinutes: sess.DurationMinutes,
		ActualStartAt:    sess.ActualStartAt,
		ActualEndAt:      sess.ActualEndAt,
		ExtensionsUsed:   sess.ExtensionsUsed,
		ExtendedMinutes:  sess.ExtendedMinutes,
	}
	if sess.ActualDurationMinutes != nil {
		summary.ActualDurationMinutes = *sess.ActualDurationMinutes
	}
	o.logger.Info("session completed", "session_id", sess.ID, "actual_minutes", summary.ActualDurationMinutes)

	therapistID, minutes := sess.TherapistID, summary.ActualDurationMinutes
	o.sideEffect(ctx, "therapist_stats", func(ctx context.Context) error {
		return o.stats.RecordCompleted(ctx, therapistID, minutes)
	})
	o.publish(ctx, events.SessionCompleted, sess, actor, map[string]any{"actual_duration_minutes": minutes})
	return summary, nil
}

// CancelSession cancels an upcoming session and frees its slot. Cancelling a
// session whose earlier cancellation could not free the slot retries the
// release.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor, reason, notes string) (_ *sessions.Session, err error) {
	ctx, span := o.start(ctx, "cancel")
	defer o.finish(span, "cancel", time.Now(), &err)
	span.SetAttributes(attribute.String("session.id", sessionID.String()), attribute.String("cancel.reason", reason))

	sess, err := o.sessions.Cancel(ctx, sessionID, actor, sessions.CancellationReason(reason), notes, o.clock.Now())
	if apperr.KindOf(err) == apperr.KindInvalidState {
		return o.finishStrandedCancel(ctx, sessionID, actor, err)
	}
	if err != nil {
		return nil, err
	}
	if err := o.slots.ReleaseSlot(ctx, sess.ID); err != nil {
		o.logger.Error("slot release after cancellation failed", "session_id", sess.ID, "error", err)
		return nil, err
	}
	o.cancelled(ctx, sess, actor)
	return sess, nil
}

// finishStrandedCancel completes a cancellation whose slot release failed.
// Any other session in a terminal state keeps the original error.
func (o *Orchestrator) finishStrandedCancel(ctx context.Context, sessionID uuid.UUID, actor identity.Actor, cause error) (*sessions.Session, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, cause
	}
	if sess.Status != sessions.StatusCancelled || !sess.CanView(actor) {
		return nil, cause
	}
	released, err := o.slots.ReleaseHeld(ctx, sess.ID)
	if err != nil {
		o.logger.Error("slot release retry failed", "session_id", sess.ID, "error", err)
		return nil, err
	}
	if !released {
		return nil, cause
	}
	o.logger.Info("released slot held by cancelled session", "session_id", sess.ID)
	o.cancelled(ctx, sess, actor)
	return sess, nil
}

func (o *Orchestrator) cancelled(ctx context.Context, sess *sessions.Session, actor identity.Actor) {
	reason := ""
	if sess.Cancellation != nil {
		reason = string(sess.Cancellation.Reason)
	}
	o.logger.Info("session cancelled", "session_id", sess.ID, "reason", reason)

	cancelled := *sess
	o.sideEffect(ctx, "notifier", func(ctx context.Context) error {
		return o.notifier.Notify(ctx, notify.Notice{Kind: notify.KindCancellation, Session: cancelled})
	})
	o.sideEffect(ctx, "audit", func(ctx context.Context) error {
		return o.audit.LogCancellation(ctx, &cancelled, actor)
	})
	o.sideEffect(ctx, "therapist_stats", func(ctx context.Context) error {
		return o.stats.RecordCancelled(ctx, cancelled.TherapistID)
	})
	o.publish(ctx, events.SessionCancelled, sess, actor, map[string]any{"reason": reason})
}

// RescheduleSession moves a session to the therapist's slot at newDate +
// newStart. The original booking survives any failure.
func (o *Orchestrator) RescheduleSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor, newDate time.Time, newStart time.Duration) (_ *sessions.Session, err error) {
	ctx, span := o.start(ctx, "reschedule")
	defer o.finish(span, "reschedule", time.Now(), &err)
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	now := o.clock.Now()
	old, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.sessions.CheckReschedulable(old, actor, now); err != nil {
		return nil, err
	}
	startsAt := timewindow.Combine(newDate, newStart, o.policy.Location).UTC()
	if startsAt.Equal(old.ScheduledAt) {
		return nil, apperr.Validation("the new time is the same as the current one")
	}
	if err := o.checkNotice(now, startsAt); err != nil {
		return nil, err
	}
	slot, err := o.slots.FindSlotAt(ctx, old.TherapistID, startsAt)
	if err != nil {
		return nil, err
	}
	if err := fits(slot, startsAt, old.DurationMinutes); err != nil {
		return nil, err
	}

	from := old.ID
	replacement := &sessions.Session{
		ID:              uuid.New(),
		Type:            old.Type,
		ClientID:        old.ClientID,
		TherapistID:     old.TherapistID,
		SlotID:          slot.ID,
		ScheduledAt:     startsAt,
		DurationMinutes: old.DurationMinutes,
		Timezone:        old.Timezone,
		Title:           old.Title,
		Notes:           old.Notes,
		Status:          sessions.StatusScheduled,
		PaymentRef:      old.PaymentRef,
		RescheduledFrom: &from,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if err := o.claimAndCreate(ctx, slot.ID, replacement, sessionWindow(startsAt, old.DurationMinutes)); err != nil {
		return nil, err
	}

	retired, err := o.sessions.MarkRescheduled(ctx, old.ID, replacement.ID, now)
	if err != nil {
		o.rollbackReplacement(ctx, replacement.ID, now)
		return nil, err
	}
	if err := o.slots.ReleaseSlot(ctx, old.ID); err != nil {
		o.logger.Error("old slot release after reschedule failed", "session_id", old.ID, "error", err)
	}
	o.logger.Info("session rescheduled", "session_id", old.ID, "replacement_id", replacement.ID, "scheduled_at", startsAt)

	moved, previous := *replacement, *retired
	o.sideEffect(ctx, "notifier", func(ctx context.Context) error {
		return o.notifier.Notify(ctx, notify.Notice{Kind: notify.KindReschedule, Session: moved, Previous: &previous})
	})
	o.sideEffect(ctx, "audit", func(ctx context.Context) error {
		return o.audit.LogReschedule(ctx, &previous, moved.ID, actor)
	})
	o.publish(ctx, events.SessionRescheduled, retired, actor, map[string]any{"rescheduled_to": replacement.ID.String()})
	o.publish(ctx, events.SessionBooked, replacement, actor, map[string]any{"rescheduled_from": old.ID.String()})
	return replacement, nil
}

func (o *Orchestrator) rollbackReplacement(ctx context.Context, id uuid.UUID, now time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := o.sessions.Discard(ctx, id, now); err != nil {
		o.logger.Error("discard replacement session failed", "session_id", id, "error", err)
	}
	if err := o.slots.ReleaseSlot(ctx, id); err != nil {
		o.logger.Error("release replacement slot failed", "session_id", id, "error", err)
	}
}

// ConfirmSession marks a scheduled session confirmed.
func (o *Orchestrator) ConfirmSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor) (_ *sessions.Session, err error) {
	ctx, span := o.start(ctx, "confirm")
	defer o.finish(span, "confirm", time.Now(), &err)

	sess, err := o.sessions.Confirm(ctx, sessionID, actor, o.clock.Now())
	if err != nil {
		return nil, err
	}
	o.publish(ctx, events.SessionConfirmed, sess, actor, nil)
	return sess, nil
}

// UpdateNotes lets the session's therapist, or an admin, set its notes.
func (o *Orchestrator) UpdateNotes(ctx context.Context, sessionID uuid.UUID, actor identity.Actor, notes string) (_ *sessions.Session, err error) {
	ctx, span := o.start(ctx, "update_notes")
	defer o.finish(span, "update_notes", time.Now(), &err)
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	sess, err := o.sessions.UpdateNotes(ctx, sessionID, actor, notes, o.clock.Now())
	if err != nil {
		return nil, err
	}
	o.logger.Info("session notes updated", "session_id", sess.ID, "actor_id", actor.ID)
	return sess, nil
}

// SessionDetail is a session as shown to one viewer.
type SessionDetail struct {
	*sessions.Session
	Extensions  sessions.ExtensionUsage `json:"extension_usage"`
	Permissions sessions.Permissions    `json:"join_permissions"`
}

// GetSession loads a session the actor may view.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID uuid.UUID, actor identity.Actor) (*SessionDetail, error) {
	sess, control, err := o.sessions.GetWithControl(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.CanView(actor) {
		return nil, apperr.Forbidden("actor may not view this session")
	}
	if !actor.IsStaff() {
		sess.Notes = ""
	}
	return &SessionDetail{
		Session:     sess,
		Extensions:  sess.Usage(o.sessions.Rules()),
		Permissions: sessions.ComputePermissions(sess, *control, o.clock.Now()),
	}, nil
}

// Authorize checks that actor may observe the session, for streaming.
func (o *Orchestrator) Authorize(ctx context.Context, sessionID uuid.UUID, actor identity.Actor) error {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.CanView(actor) {
		return apperr.Forbidden("actor may not view this session")
	}
	return nil
}

// Availability lists bookable start times on date.
func (o *Orchestrator) Availability(ctx context.Context, therapistID uuid.UUID, date time.Time, durationMinutes int) ([]time.Time, error) {
	if therapistID == uuid.Nil {
		return nil, apperr.Validation("therapist_id is required")
	}
	return o.slots.CollectAvailable(ctx, therapistID, date, durationMinutes)
}

// CreateSlots publishes availability for the actor's own calendar, or any
// calendar for admins.
func (o *Orchestrator) CreateSlots(ctx context.Context, actor identity.Actor, inputs []availability.CreateSlotInput) (_ []availability.Slot, err error) {
	ctx, span := o.start(ctx, "create_slots")
	defer o.finish(span, "create_slots", time.Now(), &err)

	for i := range inputs {
		if inputs[i].TherapistID == uuid.Nil && actor.IsTherapist() {
			inputs[i].TherapistID = actor.ID
		}
		if err := authorizeCalendar(actor, inputs[i].TherapistID); err != nil {
			return nil, err
		}
	}
	return o.slots.CreateSlots(ctx, o.clock.Now(), inputs)
}

// ModifySlot updates, blocks or unblocks a slot.
func (o *Orchestrator) ModifySlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID, patch availability.SlotPatch) (_ *availability.Slot, err error) {
	ctx, span := o.start(ctx, "modify_slot")
	defer o.finish(span, "modify_slot", time.Now(), &err)

	if err := o.authorizeSlot(ctx, actor, slotID); err != nil {
		return nil, err
	}
	slot, err := o.slots.ModifySlot(ctx, o.clock.Now(), slotID, patch)
	if err != nil {
		return nil, err
	}
	if patch.Action == availability.ActionBlock {
		blocked := *slot
		o.sideEffect(ctx, "audit", func(ctx context.Context) error {
			return o.audit.LogSlotBlocked(ctx, &blocked, actor)
		})
	}
	return slot, nil
}

// DeleteSlot removes an unbooked slot.
func (o *Orchestrator) DeleteSlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID) (err error) {
	ctx, span := o.start(ctx, "delete_slot")
	defer o.finish(span, "delete_slot", time.Now(), &err)

	if err := o.authorizeSlot(ctx, actor, slotID); err != nil {
		return err
	}
	slot, err := o.slots.DeleteSlot(ctx, o.clock.Now(), slotID)
	if err != nil {
		return err
	}
	o.sideEffect(ctx, "audit", func(ctx context.Context) error {
		return o.audit.LogSlotDeleted(ctx, slot, actor)
	})
	return nil
}

// ListSlots returns a therapist's calendar between two dates, inclusive. A
// zero from means today; a zero to means thirty days after from.
func (o *Orchestrator) ListSlots(ctx context.Context, actor identity.Actor, therapistID uuid.UUID, from, to time.Time) ([]availability.SlotView, error) {
	if err := authorizeCalendar(actor, therapistID); err != nil {
		return nil, err
	}
	now := o.clock.Now()
	if from.IsZero() {
		today := timewindow.DayStart(now, o.policy.Location)
		from = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 30)
	}
	return o.slots.ListSlots(ctx, now, therapistID, from, to)
}

// SessionListing pairs a session with its extension usage.
type SessionListing struct {
	sessions.Session
	Extensions sessions.ExtensionUsage `json:"extension_usage"`
}

// ListSessions returns a therapist's sessions scheduled in [from, to).
func (o *Orchestrator) ListSessions(ctx context.Context, actor identity.Actor, therapistID uuid.UUID, from, to time.Time, statuses []sessions.Status) ([]SessionListing, error) {
	if err := authorizeCalendar(actor, therapistID); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, apperr.Validation("unknown status %q", st)
		}
	}
	list, err := o.sessions.List(ctx, sessions.Filter{TherapistID: therapistID, From: from, To: to, Statuses: statuses})
	if err != nil {
		return nil, err
	}
	rules := o.sessions.Rules()
	out := make([]SessionListing, 0, len(list))
	for _, s := range list {
		out = append(out, SessionListing{Session: s, Extensions: s.Usage(rules)})
	}
	return out, nil
}

// SweepNoShows flags abandoned sessions and returns how many changed.
func (o *Orchestrator) SweepNoShows(ctx context.Context) (int, error) {
	ctx, span := o.start(ctx, "sweep_no_shows")
	defer span.End()

	flagged, err := o.sessions.SweepNoShows(ctx, o.clock.Now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	for i := range flagged {
		sess := flagged[i]
		o.sideEffect(ctx, "audit", func(ctx context.Context) error {
			return o.audit.LogNoShow(ctx, &sess)
		})
		o.sideEffect(ctx, "therapist_stats", func(ctx context.Context) error {
			return o.stats.RecordNoShow(ctx, sess.TherapistID)
		})
		o.publish(ctx, events.SessionNoShow, &sess, identity.Actor{}, nil)
	}
	if _, err := o.ReleaseStrandedSlots(ctx); err != nil {
		o.logger.Error("stranded slot release failed", "error", err)
	}
	return len(flagged), nil
}

// ReleaseStrandedSlots frees slots still held by cancelled or rescheduled
// sessions that could still be booked by someone else.
func (o *Orchestrator) ReleaseStrandedSlots(ctx context.Context) (int, error) {
	stale, err := o.sessions.List(ctx, sessions.Filter{
		From:     o.clock.Now().Add(o.policy.BookingNotice),
		Statuses: []sessions.Status{sessions.StatusCancelled, sessions.StatusRescheduled},
	})
	if err != nil {
		return 0, err
	}
	freed := 0
	for _, sess := range stale {
		released, err := o.slots.ReleaseHeld(ctx, sess.ID)
		if err != nil {
			return freed, err
		}
		if released {
			freed++
			o.logger.Info("released slot held by retired session", "session_id", sess.ID, "status", string(sess.Status))
		}
	}
	return freed, nil
}

func (o *Orchestrator) checkNotice(now, startsAt time.Time) error {
	earliest := now.Add(o.policy.BookingNotice)
	if !startsAt.After(earliest) {
		return apperr.New(apperr.KindInsufficientNotice,
			"sessions must be booked more than %s in advance", o.policy.BookingNotice).
			With("earliest", earliest)
	}
	return nil
}

func (o *Orchestrator) timezone(requested string) string {
	if requested != "" {
		if _, err := time.LoadLocation(requested); err == nil {
			return requested
		}
	}
	return o.policy.Location.String()
}

func (o *Orchestrator) authorizeSlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID) error {
	slot, err := o.slots.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	return authorizeCalendar(actor, slot.TherapistID)
}

func authorizeCalendar(actor identity.Actor, therapistID uuid.UUID) error {
	if actor.IsAdmin() || (actor.IsTherapist() && actor.ID == therapistID) {
		return nil
	}
	return apperr.Forbidden("only the therapist or an admin can manage this calendar")
}

func fits(slot *availability.Slot, startsAt time.Time, minutes int) error {
	end := startsAt.Add(time.Duration(minutes) * time.Minute)
	if end.After(slot.EndsAt) {
		return apperr.Validation("a %d minute session does not fit in the slot ending at %s",
			minutes, slot.EndsAt.Format(time.RFC3339))
	}
	return nil
}

func sessionWindow(startsAt time.Time, minutes int) timewindow.Interval {
	return timewindow.Interval{Start: startsAt, End: startsAt.Add(time.Duration(minutes) * time.Minute)}
}

func (o *Orchestrator) publish(ctx context.Context, typ events.Type, sess *sessions.Session, actor identity.Actor, data map[string]any) {
	evt := events.SessionEvent{
		ID:          uuid.New(),
		Type:        typ,
		SessionID:   sess.ID,
		TherapistID: sess.TherapistID,
		ClientID:    sess.ClientID,
		Status:      string(sess.Status),
		ActorID:     actor.ID,
		Data:        data,
		OccurredAt:  o.clock.Now().UTC(),
	}
	o.sideEffect(ctx, "publisher", func(ctx context.Context) error {
		return o.publisher.Publish(ctx, evt)
	})
}

// sideEffect runs fn in the background. Its failure is logged and counted
// but never reaches the caller.
func (o *Orchestrator) sideEffect(ctx context.Context, collaborator string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	o.effects.Add(1)
	go func() {
		defer o.effects.Done()
		ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			o.metrics.ObserveSideEffectFailure(collaborator)
			o.logger.Warn("side effect failed", "collaborator", collaborator, "error", err)
		}
	}()
}

func (o *Orchestrator) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduling."+op)
}

func (o *Orchestrator) finish(span trace.Span, op string, began time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
			span.SetStatus(codes.Error, err.Error())
		}
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()
	o.metrics.ObserveOperation(op, outcome, time.Since(began).Seconds())
}
