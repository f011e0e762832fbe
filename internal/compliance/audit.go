// Package compliance keeps the immutable audit trail of scheduling decisions.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	EventSessionCancelled   AuditEventType = "session.cancelled"
	EventSessionRescheduled AuditEventType = "session.rescheduled"
	EventSessionExtended    AuditEventType = "session.extended"
	// EventAdminJoined is logged when an admin enters a session outside the
	// participant rules.
	EventAdminJoined   AuditEventType = "session.admin_joined"
	EventSessionNoShow AuditEventType = "session.no_show"
	EventSlotBlocked   AuditEventType = "slot.blocked"
	EventSlotDeleted   AuditEventType = "slot.deleted"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	ActorRole string          `json:"actor_role,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	SlotID    string          `json:"slot_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	Reason          string     `json:"reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	RescheduledTo   string     `json:"rescheduled_to,omitempty"`
	ExtensionNumber int        `json:"extension_number,omitempty"`
	Minutes         int        `json:"minutes,omitempty"`
	Status          string     `json:"status,omitempty"`
}

// AuditService writes audit records through database/sql.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO scheduling_audit_events (
			id, event_type, actor_id, actor_role, session_id, slot_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.ActorID),
		nullString(event.ActorRole),
		nullString(event.SessionID),
		nullString(event.SlotID),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

func (s *AuditService) logSession(ctx context.Context, typ AuditEventType, sess *sessions.Session, actor identity.Actor, details AuditDetails) error {
	detailsJSON, _ := json.Marshal(details)
	return s.LogEvent(ctx, AuditEvent{
		EventType: typ,
		ActorID:   actorID(actor),
		ActorRole: string(actor.Role),
		SessionID: sess.ID.String(),
		SlotID:    optionalID(sess.SlotID),
		Details:   detailsJSON,
	})
}

// LogCancellation records who cancelled a session and why.
func (s *AuditService) LogCancellation(ctx context.Context, sess *sessions.Session, actor identity.Actor) error {
	d := AuditDetails{ScheduledAt: &sess.ScheduledAt}
	if c := sess.Cancellation; c != nil {
		d.Reason = string(c.Reason)
		d.Notes = c.Notes
	}
	return s.logSession(ctx, EventSessionCancelled, sess, actor, d)
}

// LogReschedule records the move from old to its replacement.
func (s *AuditService) LogReschedule(ctx context.Context, old *sessions.Session, replacement uuid.UUID, actor identity.Actor) error {
	return s.logSession(ctx, EventSessionRescheduled, old, actor, AuditDetails{ScheduledAt: &old.ScheduledAt, RescheduledTo: replacement.String()})
}

// LogExtension records a granted extension.
func (s *AuditService) LogExtension(ctx context.Context, sess *sessions.Session, ext sessions.Extension, actor identity.Actor) error {
	return s.logSession(ctx, EventSessionExtended, sess, actor, AuditDetails{Reason: ext.Reason, ExtensionNumber: ext.Sequence, Minutes: ext.Minutes})
}

// LogAdminJoin records an admin entering a session.
func (s *AuditService) LogAdminJoin(ctx context.Context, sess *sessions.Session, actor identity.Actor) error {
	return s.logSession(ctx, EventAdminJoined, sess, actor, AuditDetails{Status: string(sess.Status)})
}

// LogNoShow records a session flagged by the sweeper.
func (s *AuditService) LogNoShow(ctx context.Context, sess *sessions.Session) error {
	return s.logSession(ctx, EventSessionNoShow, sess, identity.Actor{}, AuditDetails{ScheduledAt: &sess.ScheduledAt})
}

// LogSlotBlocked records a therapist blocking a slot.
func (s *AuditService) LogSlotBlocked(ctx context.Context, slot *availability.Slot, actor identity.Actor) error {
	return s.logSlot(ctx, EventSlotBlocked, slot, actor)
}

// LogSlotDeleted records a slot removed from the calendar.
func (s *AuditService) LogSlotDeleted(ctx context.Context, slot *availability.Slot, actor identity.Actor) error {
	return s.logSlot(ctx, EventSlotDeleted, slot, actor)
}

func (s *AuditService) logSlot(ctx context.Context, typ AuditEventType, slot *availability.Slot, actor identity.Actor) error {
	detailsJSON, _ := json.Marshal(AuditDetails{ScheduledAt: &slot.StartsAt, Notes: slot.Notes, Status: string(slot.Status)})
	return s.LogEvent(ctx, AuditEvent{
		EventType: typ,
		ActorID:   actorID(actor),
		ActorRole: string(actor.Role),
		SlotID:    slot.ID.String(),
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, actor_id, actor_role, session_id, slot_id, details, created_at
		FROM scheduling_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var actor, role, sessionID, slotID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &actor, &role, &sessionID, &slotID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.ActorID = actor.String
		e.ActorRole = role.String
		e.SessionID = sessionID.String
		e.SlotID = slotID.String
		e.Details = append(json.RawMessage(nil), details...)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	SessionID string
	ActorID   string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func actorID(a identity.Actor) string {
	return optionalID(a.ID)
}

func optionalID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
