package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// MemoryStore is an in-process Store guarded by a single mutex.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*Slot
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[uuid.UUID]*Slot)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(_ context.Context, slots []Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range slots {
		if conflict := m.conflictLocked(slots[i], uuid.Nil); conflict != nil {
			return apperr.ErrOverlap.With("conflicting_slot_id", conflict.ID.String())
		}
		for j := 0; j < i; j++ {
			if slots[j].TherapistID == slots[i].TherapistID && slots[j].Interval().Overlaps(slots[i].Interval()) {
				return apperr.ErrOverlap.With("occurrence_date", slots[i].Date.Format("2006-01-02"))
			}
		}
	}
	for i := range slots {
		s := slots[i]
		m.slots[s.ID] = &s
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperr.NotFound("slot %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) FindByStart(_ context.Context, therapistID uuid.UUID, startsAt time.Time) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.TherapistID == therapistID && s.StartsAt.Equal(startsAt) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("no slot for therapist %s at %s", therapistID, startsAt.Format(time.RFC3339))
}

func (m *MemoryStore) ListByTherapist(_ context.Context, therapistID uuid.UUID, fromDate, toDate time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.TherapistID != therapistID {
			continue
		}
		if s.Date.Before(fromDate) || s.Date.After(toDate) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, slot *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.slots[slot.ID]
	if !ok {
		return apperr.NotFound("slot %s not found", slot.ID)
	}
	if cur.Status == StatusBooked {
		return apperr.InvalidState("slot %s is booked", slot.ID)
	}
	if conflict := m.conflictLocked(*slot, slot.ID); conflict != nil {
		return apperr.ErrOverlap.With("conflicting_slot_id", conflict.ID.String())
	}
	cp := *slot
	m.slots[slot.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.slots[id]
	if !ok {
		return apperr.NotFound("slot %s not found", id)
	}
	if cur.Status == StatusBooked {
		return apperr.InvalidState("slot %s is booked", id)
	}
	delete(m.slots, id)
	return nil
}

func (m *MemoryStore) Claim(_ context.Context, slotID, sessionID uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok {
		return nil, apperr.NotFound("slot %s not found", slotID)
	}
	if s.Status != StatusAvailable {
		return nil, apperr.New(apperr.KindSlotNotAvailable, "slot %s is %s", slotID, s.Status)
	}
	sid := sessionID
	s.Status = StatusBooked
	s.SessionID = &sid
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ClaimPart(_ context.Context, slotID, sessionID uuid.UUID, part timewindow.Interval) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok {
		return nil, apperr.NotFound("slot %s not found", slotID)
	}
	claimed, rest, err := carve(*s, sessionID, part, time.Now())
	if err != nil {
		return nil, err
	}
	m.slots[slotID] = &claimed
	for i := range rest {
		r := rest[i]
		m.slots[r.ID] = &r
	}
	cp := claimed
	return &cp, nil
}

func (m *MemoryStore) Release(_ context.Context, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.SessionID != nil && *s.SessionID == sessionID {
			s.Status = StatusAvailable
			s.SessionID = nil
			s.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) conflictLocked(candidate Slot, exclude uuid.UUID) *Slot {
	for id, s := range m.slots {
		if id == exclude || s.TherapistID != candidate.TherapistID {
			continue
		}
		if s.Interval().Overlaps(candidate.Interval()) {
			return s
		}
	}
	return nil
}
