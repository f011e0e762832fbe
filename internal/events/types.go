package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names a session lifecycle event.
type Type string

const (
	SessionBooked      Type = "session.booked"
	SessionConfirmed   Type = "session.confirmed"
	SessionJoined      Type = "session.joined"
	SessionExtended    Type = "session.extended"
	SessionCompleted   Type = "session.completed"
	SessionCancelled   Type = "session.cancelled"
	SessionRescheduled Type = "session.rescheduled"
	SessionNoShow      Type = "session.no_show"
)

// SessionEvent is broadcast to listeners of one session.
type SessionEvent struct {
	ID          uuid.UUID      `json:"id"`
	Type        Type           `json:"type"`
	SessionID   uuid.UUID      `json:"session_id"`
	TherapistID uuid.UUID      `json:"therapist_id"`
	ClientID    uuid.UUID      `json:"client_id"`
	Status      string         `json:"status"`
	ActorID     uuid.UUID      `json:"actor_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
