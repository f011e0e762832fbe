package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MutateFunc edits a session and its join record under an exclusive hold.
// Returning an error discards the edit.
type MutateFunc func(s *Session, c *JoinControl) error

// ExtendFunc decides a new extension given the count of prior grants.
type ExtendFunc func(s *Session, prior int) (*Extension, error)

// Filter narrows session listings. Zero fields are ignored.
type Filter struct {
	TherapistID uuid.UUID
	From        time.Time
	To          time.Time
	Statuses    []Status
}

// Store persists sessions, join records and extensions.
type Store interface {
	Create(ctx context.Context, s *Session, c *JoinControl) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	GetJoinControl(ctx context.Context, sessionID uuid.UUID) (*JoinControl, error)
	// Update serializes read-modify-write of one session.
	Update(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Session, *JoinControl, error)
	// AppendExtension serializes extension grants so the count bound holds.
	AppendExtension(ctx context.Context, sessionID uuid.UUID, fn ExtendFunc) (*Session, *Extension, error)
	ListExtensions(ctx context.Context, sessionID uuid.UUID) ([]Extension, error)
	// List returns sessions with ScheduledAt in [From, To), ordered by start.
	List(ctx context.Context, f Filter) ([]Session, error)
	// ListNoShowCandidates returns upcoming, never-started sessions scheduled before cutoff.
	ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]Session, error)
	// ListReminderCandidates returns upcoming sessions scheduled in [from, to].
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]Session, error)
}
