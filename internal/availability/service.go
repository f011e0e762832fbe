package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Options carries the slot rules.
type Options struct {
	Location *time.Location
	// Notice is both the creation lead (in whole days) and the minimum time
	// before a slot starts for it to be modified or deleted.
	Notice  time.Duration
	Step    time.Duration
	Horizon time.Duration
}

// DefaultOptions returns the standard slot rules in UTC.
func DefaultOptions() Options {
	return Options{
		Location: time.UTC,
		Notice:   48 * time.Hour,
		Step:     30 * time.Minute,
		Horizon:  365 * 24 * time.Hour,
	}
}

// Service owns the availability slot rules.
type Service struct {
	store  Store
	busy   BusyLister
	opts   Options
	logger *logging.Logger
}

// NewService wires a slot service. busy may be nil when no sessions exist yet.
func NewService(store Store, busy BusyLister, opts Options, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	def := DefaultOptions()
	if opts.Location == nil {
		opts.Location = def.Location
	}
	if opts.Notice <= 0 {
		opts.Notice = def.Notice
	}
	if opts.Step <= 0 {
		opts.Step = def.Step
	}
	if opts.Horizon <= 0 {
		opts.Horizon = def.Horizon
	}
	return &Service{store: store, busy: busy, opts: opts, logger: logger}
}

// Location returns the practice timezone.
func (s *Service) Location() *time.Location { return s.opts.Location }

// CreateSlot publishes one slot, or every occurrence of a recurring slot.
func (s *Service) CreateSlot(ctx context.Context, now time.Time, in CreateSlotInput) ([]Slot, error) {
	return s.CreateSlots(ctx, now, []CreateSlotInput{in})
}

// CreateSlots validates and inserts a batch. Either every slot is stored or none is.
func (s *Service) CreateSlots(ctx context.Context, now time.Time, inputs []CreateSlotInput) ([]Slot, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("at least one slot is required")
	}

	var batch []Slot
	for _, in := range inputs {
		slots, err := s.expand(now, in)
		if err != nil {
			return nil, err
		}
		batch = append(batch, slots...)
	}

	for i, candidate := range batch {
		for j := 0; j < i; j++ {
			if batch[j].TherapistID == candidate.TherapistID && batch[j].Interval().Overlaps(candidate.Interval()) {
				return nil, apperr.ErrOverlap.With("occurrence_date", candidate.Date.Format(timewindow.DateLayout))
			}
		}
		if err := s.checkOverlap(ctx, candidate, uuid.Nil); err != nil {
			return nil, err
		}
	}

	if err := s.store.Insert(ctx, batch); err != nil {
		return nil, err
	}
	s.logger.Info("availability slots created",
		"therapist_id", batch[0].TherapistID,
		"count", len(batch),
		"first_start", batch[0].StartsAt,
	)
	return batch, nil
}

// ModifySlot applies an update, block or unblock to an unbooked slot.
func (s *Service) ModifySlot(ctx context.Context, now time.Time, slotID uuid.UUID, patch SlotPatch) (*Slot, error) {
	slot, err := s.store.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status == StatusBooked {
		return nil, apperr.InvalidState("slot %s is booked and cannot be modified", slotID)
	}
	if !s.CanBeModified(*slot, now) {
		return nil, apperr.New(apperr.KindInsufficientNotice,
			"slots can only be changed at least %s before they start", s.opts.Notice)
	}

	switch patch.Action {
	case ActionBlock:
		slot.Status = StatusBlocked
		slot.Notes = patch.Reason
		if slot.Notes == "" {
			slot.Notes = DefaultBlockReason
		}
	case ActionUnblock:
		slot.Status = StatusAvailable
		slot.Notes = ""
	case ActionUpdate, "":
		if patch.StartTime != nil || patch.EndTime != nil {
			start := timewindow.ClockOf(slot.StartsAt, s.opts.Location)
			end := timewindow.ClockOf(slot.EndsAt, s.opts.Location)
			if patch.StartTime != nil {
				start = *patch.StartTime
			}
			if patch.EndTime != nil {
				end = *patch.EndTime
			}
			if end <= start {
				return nil, apperr.Validation("end time must be after start time")
			}
			slot.StartsAt = timewindow.Combine(slot.Date, start, s.opts.Location).UTC()
			slot.EndsAt = timewindow.Combine(slot.Date, end, s.opts.Location).UTC()
			slot.DurationMinutes = int((end - start) / time.Minute)
			if !s.CanBeModified(*slot, now) {
				return nil, apperr.New(apperr.KindInsufficientNotice,
					"slots can only be moved to at least %s ahead", s.opts.Notice)
			}
			if err := s.checkOverlap(ctx, *slot, slot.ID); err != nil {
				return nil, err
			}
		}
		if patch.Notes != nil {
			slot.Notes = *patch.Notes
		}
	default:
		return nil, apperr.Validation("unknown action %q", patch.Action)
	}

	slot.UpdatedAt = now.UTC()
	if err := s.store.Update(ctx, slot); err != nil {
		return nil, err
	}
	s.logger.Info("availability slot modified", "slot_id", slot.ID, "action", string(patch.Action), "status", string(slot.Status))
	return slot, nil
}

// DeleteSlot removes an unbooked slot under the notice rule.
func (s *Service) DeleteSlot(ctx context.Context, now time.Time, slotID uuid.UUID) (*Slot, error) {
	slot, err := s.store.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status == StatusBooked {
		return nil, apperr.InvalidState("slot %s is booked and cannot be deleted", slotID)
	}
	if !s.CanBeModified(*slot, now) {
		return nil, apperr.New(apperr.KindInsufficientNotice,
			"slots can only be deleted at least %s before they start", s.opts.Notice)
	}
	if err := s.store.Delete(ctx, slotID); err != nil {
		return nil, err
	}
	s.logger.Info("availability slot deleted", "slot_id", slotID)
	return slot, nil
}

// GetSlot loads one slot.
func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	return s.store.Get(ctx, slotID)
}

// FindSlotAt locates the therapist's slot covering the given instant. A slot
// starting exactly there wins; otherwise an available slot containing the
// instant is preferred over a booked or blocked one.
func (s *Service) FindSlotAt(ctx context.Context, therapistID uuid.UUID, startsAt time.Time) (*Slot, error) {
	startsAt = startsAt.UTC()
	slot, err := s.store.FindByStart(ctx, therapistID, startsAt)
	if err == nil || apperr.KindOf(err) != apperr.KindNotFound {
		return slot, err
	}

	local := startsAt.In(s.opts.Location)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	slots, err := s.store.ListByTherapist(ctx, therapistID, date, date)
	if err != nil {
		return nil, err
	}
	var covering *Slot
	for i := range slots {
		if slots[i].StartsAt.After(startsAt) || !slots[i].EndsAt.After(startsAt) {
			continue
		}
		if slots[i].Status == StatusAvailable {
			return &slots[i], nil
		}
		if covering == nil {
			covering = &slots[i]
		}
	}
	if covering != nil {
		return covering, nil
	}
	return nil, apperr.NotFound("no slot for therapist %s at %s", therapistID, startsAt.Format(time.RFC3339))
}

// ClaimSlot atomically books an available slot for a session.
func (s *Service) ClaimSlot(ctx context.Context, slotID, sessionID uuid.UUID) (*Slot, error) {
	slot, err := s.store.Claim(ctx, slotID, sessionID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("availability slot claimed", "slot_id", slotID, "session_id", sessionID)
	return slot, nil
}

// ClaimWithin atomically books part of an available slot for a session. Time
// the session does not cover stays bookable as separate slots.
func (s *Service) ClaimWithin(ctx context.Context, slotID, sessionID uuid.UUID, part timewindow.Interval) (*Slot, error) {
	slot, err := s.store.ClaimPart(ctx, slotID, sessionID, part)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("availability slot claimed",
		"slot_id", slotID,
		"session_id", sessionID,
		"starts_at", slot.StartsAt,
		"ends_at", slot.EndsAt,
	)
	return slot, nil
}

// ReleaseSlot returns the session's slot to the available pool.
func (s *Service) ReleaseSlot(ctx context.Context, sessionID uuid.UUID) error {
	released, err := s.ReleaseHeld(ctx, sessionID)
	if err != nil {
		return err
	}
	if !released {
		s.logger.Warn("no slot linked to session", "session_id", sessionID)
	}
	return nil
}

// ReleaseHeld frees the slot still linked to sessionID and reports whether
// one was. Calling it again after a successful release is a no-op.
func (s *Service) ReleaseHeld(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return s.store.Release(ctx, sessionID)
}

// ListSlots returns the therapist's calendar between two civil dates, inclusive.
func (s *Service) ListSlots(ctx context.Context, now time.Time, therapistID uuid.UUID, fromDate, toDate time.Time) ([]SlotView, error) {
	if toDate.Before(fromDate) {
		return nil, apperr.Validation("to date must not precede from date")
	}
	slots, err := s.store.ListByTherapist(ctx, therapistID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	views := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		views = append(views, SlotView{Slot: slot, CanBeModified: slot.Status != StatusBooked && s.CanBeModified(slot, now)})
	}
	return views, nil
}

// CanBeModified reports whether the notice window still allows changing slot.
func (s *Service) CanBeModified(slot Slot, now time.Time) bool {
	return !now.Add(s.opts.Notice).After(slot.StartsAt)
}

// expand validates one input and materializes its occurrences.
func (s *Service) expand(now time.Time, in CreateSlotInput) ([]Slot, error) {
	if in.TherapistID == uuid.Nil {
		return nil, apperr.Validation("therapist_id is required")
	}
	if in.EndTime <= in.StartTime {
		return nil, apperr.Validation("end time must be after start time")
	}
	if in.EndTime > 24*time.Hour {
		return nil, apperr.Validation("slot must end on the same day")
	}
	status := in.Status
	if status == "" {
		status = StatusAvailable
	}
	if status == StatusBooked || !status.Valid() {
		return nil, apperr.Validation("slots cannot be created as %q", status)
	}

	dates, err := occurrences(in.Date, in.Recurrence, s.opts.Horizon)
	if err != nil {
		return nil, err
	}

	leadDays := int(s.opts.Notice / (24 * time.Hour))
	earliest := timewindow.AddDays(timewindow.DayStart(now, s.opts.Location), leadDays)

	recurrence := in.Recurrence
	if recurrence.Type == "" {
		recurrence.Type = RecurrenceNone
	}

	slots := make([]Slot, 0, len(dates))
	for _, date := range dates {
		civil := timewindow.Combine(date, 0, s.opts.Location)
		if !civil.After(earliest) {
			return nil, apperr.New(apperr.KindInsufficientNotice,
				"slots must be created more than %d days in advance", leadDays).
				With("date", date.Format(timewindow.DateLayout))
		}
		slots = append(slots, Slot{
			ID:              uuid.New(),
			TherapistID:     in.TherapistID,
			Date:            date,
			StartsAt:        timewindow.Combine(date, in.StartTime, s.opts.Location).UTC(),
			EndsAt:          timewindow.Combine(date, in.EndTime, s.opts.Location).UTC(),
			DurationMinutes: int((in.EndTime - in.StartTime) / time.Minute),
			Status:          status,
			Recurrence:      recurrence,
			Notes:           in.Notes,
			CreatedAt:       now.UTC(),
			UpdatedAt:       now.UTC(),
		})
	}
	return slots, nil
}

func (s *Service) checkOverlap(ctx context.Context, candidate Slot, exclude uuid.UUID) error {
	existing, err := s.store.ListByTherapist(ctx, candidate.TherapistID, candidate.Date, candidate.Date)
	if err != nil {
		return fmt.Errorf("availability: overlap check: %w", err)
	}
	for _, other := range existing {
		if other.ID == exclude {
			continue
		}
		if other.Interval().Overlaps(candidate.Interval()) {
			return apperr.New(apperr.KindOverlap, "slot overlaps an existing slot on %s", candidate.Date.Format(timewindow.DateLayout)).
				With("conflicting_slot_id", other.ID.String())
		}
	}
	return nil
}
