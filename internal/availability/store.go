package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// Store persists availability slots.
//
// Implementations enforce the booking invariants atomically: Insert rejects a
// batch containing any overlap, Update and Delete refuse booked slots, and
// Claim is a compare-and-set from available to booked.
type Store interface {
	Insert(ctx context.Context, slots []Slot) error
	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindByStart(ctx context.Context, therapistID uuid.UUID, startsAt time.Time) (*Slot, error)
	// ListByTherapist returns slots whose date falls in [fromDate, toDate], ordered by start.
	ListByTherapist(ctx context.Context, therapistID uuid.UUID, fromDate, toDate time.Time) ([]Slot, error)
	Update(ctx context.Context, slot *Slot) error
	Delete(ctx context.Context, id uuid.UUID) error
	Claim(ctx context.Context, slotID, sessionID uuid.UUID) (*Slot, error)
	// ClaimPart books part of an available slot and re-publishes the
	// uncovered remainder as available slots in the same operation.
	ClaimPart(ctx context.Context, slotID, sessionID uuid.UUID, part timewindow.Interval) (*Slot, error)
	// Release frees the slot linked to sessionID. It reports false when no slot is linked.
	Release(ctx context.Context, sessionID uuid.UUID) (bool, error)
}
