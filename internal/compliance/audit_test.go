package compliance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
)

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name  string
		event AuditEvent
	}{
		{
			name:  "session event",
			event: AuditEvent{EventType: EventSessionCancelled, SessionID: uuid.NewString(), ActorID: uuid.NewString(), ActorRole: "client"},
		},
		{
			name:  "slot event with details",
			event: AuditEvent{EventType: EventSlotBlocked, SlotID: uuid.NewString(), Details: json.RawMessage(`{"notes":"leave"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO scheduling_audit_events").
				WillReturnResult(sqlmock.NewResult(1, 1))
			assert.NoError(t, service.LogEvent(context.Background(), tt.event))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogCancellation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	actor := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
	sess := &sessions.Session{
		ID:          uuid.New(),
		SlotID:      uuid.New(),
		ScheduledAt: time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC),
		Cancellation: &sessions.Cancellation{
			Reason: sessions.ReasonEmergency,
			Notes:  "family emergency",
		},
	}

	mock.ExpectExec("INSERT INTO scheduling_audit_events").
		WithArgs(sqlmock.AnyArg(), EventSessionCancelled, actor.ID.String(), "client", sess.ID.String(), sess.SlotID.String(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewAuditService(db).LogCancellation(context.Background(), sess, actor)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogNoShowHasNoActor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sess := &sessions.Session{ID: uuid.New(), ScheduledAt: time.Now().UTC()}
	mock.ExpectExec("INSERT INTO scheduling_audit_events").
		WithArgs(sqlmock.AnyArg(), EventSessionNoShow, nil, nil, sess.ID.String(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, NewAuditService(db).LogNoShow(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogSlotDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	slot := &availability.Slot{ID: uuid.New(), StartsAt: time.Now().UTC(), Status: availability.StatusAvailable}
	mock.ExpectExec("INSERT INTO scheduling_audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewAuditService(db).LogSlotDeleted(context.Background(), slot, identity.Actor{ID: uuid.New(), Role: identity.RoleTherapist})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	sessionID := uuid.NewString()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "actor_id", "actor_role", "session_id", "slot_id", "details", "created_at",
	}).AddRow(
		uuid.NewString(), EventSessionExtended, uuid.NewString(), "therapist", sessionID, nil, []byte(`{"minutes":10}`), now,
	)

	mock.ExpectQuery("SELECT (.+) FROM scheduling_audit_events").
		WithArgs(sessionID, now.Add(-24*time.Hour), now).
		WillReturnRows(rows)

	events, err := NewAuditService(db).QueryEvents(context.Background(), AuditFilter{
		SessionID: sessionID,
		StartTime: now.Add(-24 * time.Hour),
		EndTime:   now,
		Limit:     100,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionExtended, events[0].EventType)
	assert.Equal(t, "", events[0].SlotID)
	assert.JSONEq(t, `{"minutes":10}`, string(events[0].Details))
}
