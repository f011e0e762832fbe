package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
)

var sessionColumnNames = []string{
	"id", "session_type", "client_id", "therapist_id", "slot_id", "scheduled_at", "duration_minutes", "timezone", "title", "notes", "status",
	"actual_start_at", "actual_end_at", "actual_duration_minutes",
	"cancellation_reason", "cancellation_notes", "cancelled_by", "cancelled_at",
	"meeting_link", "meeting_id", "meeting_password", "payment_ref",
	"confirmation_sent", "reminder_sent_24h", "reminder_sent_1h",
	"rescheduled_from", "rescheduled_to", "extensions_used", "extended_minutes", "created_at", "updated_at",
}

func sessionRows(s *Session) *pgxmock.Rows {
	return pgxmock.NewRows(sessionColumnNames).AddRow(
		s.ID, string(s.Type), s.ClientID, s.TherapistID, s.SlotID, s.ScheduledAt, s.DurationMinutes, s.Timezone, s.Title, s.Notes, string(s.Status),
		s.ActualStartAt, nil, nil,
		nil, nil, nil, nil,
		"", "", "", "",
		false, false, false,
		nil, nil, s.ExtensionsUsed, s.ExtendedMinutes, start, start,
	)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPostgresStore(mock)
}

func TestPostgresAppendExtension(t *testing.T) {
	mock, store := newMockStore(t)
	s := newSession(StatusInProgress)
	at := start
	s.ActualStartAt = &at

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, session_type").WithArgs(s.ID).WillReturnRows(sessionRows(s))
	mock.ExpectQuery("SELECT COUNT").WithArgs(s.ID).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO session_extensions").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE therapy_sessions SET").WithArgs(anyArgs(20)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	var sawPrior int
	updated, ext, err := store.AppendExtension(context.Background(), s.ID, func(sess *Session, prior int) (*Extension, error) {
		sawPrior = prior
		e, _, err := grantExtension(sess, prior, therapistOf(sess), "", start.Add(50*time.Minute), DefaultRules())
		return e, err
	})
	if err != nil {
		t.Fatalf("append extension failed: %v", err)
	}
	if sawPrior != 1 || ext.Sequence != 2 || updated.ExtendedMinutes != 10 {
		t.Fatalf("unexpected result prior=%d ext=%#v session=%#v", sawPrior, ext, updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAppendExtensionUniqueViolation(t *testing.T) {
	mock, store := newMockStore(t)
	s := newSession(StatusInProgress)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, session_type").WithArgs(s.ID).WillReturnRows(sessionRows(s))
	mock.ExpectQuery("SELECT COUNT").WithArgs(s.ID).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("INSERT INTO session_extensions").WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, _, err := store.AppendExtension(context.Background(), s.ID, func(sess *Session, prior int) (*Extension, error) {
		e, _, err := grantExtension(sess, prior, therapistOf(sess), "", start, DefaultRules())
		return e, err
	})
	if apperr.KindOf(err) != apperr.KindExtensionLimitReached {
		t.Fatalf("expected extension_limit_reached, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateMissingSession(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, session_type").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := store.Update(context.Background(), id, func(*Session, *JoinControl) error { return nil })
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestPostgresUpdateDiscardsOnError(t *testing.T) {
	mock, store := newMockStore(t)
	s := newSession(StatusCompleted)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, session_type").WithArgs(s.ID).WillReturnRows(sessionRows(s))
	mock.ExpectQuery("SELECT session_id").WithArgs(s.ID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := store.Update(context.Background(), s.ID, func(sess *Session, _ *JoinControl) error {
		return sess.Confirm(start)
	})
	if apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdatePersistsNotes(t *testing.T) {
	mock, store := newMockStore(t)
	s := newSession(StatusConfirmed)

	args := append(anyArgs(19), "reviewed safety plan")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, session_type").WithArgs(s.ID).WillReturnRows(sessionRows(s))
	mock.ExpectQuery("SELECT session_id").WithArgs(s.ID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE therapy_sessions SET").WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO join_controls").WithArgs(anyArgs(9)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	updated, _, err := store.Update(context.Background(), s.ID, func(sess *Session, _ *JoinControl) error {
		return sess.SetNotes(therapistOf(sess), " reviewed safety plan ", start)
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Notes != "reviewed safety plan" {
		t.Fatalf("unexpected notes %q", updated.Notes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresListBuildsFilter(t *testing.T) {
	mock, store := newMockStore(t)
	s := newSession(StatusScheduled)
	from, to := start.Add(-24*time.Hour), start.Add(24*time.Hour)

	mock.ExpectQuery(`FROM therapy_sessions WHERE therapist_id = \$1 AND scheduled_at >= \$2 AND scheduled_at < \$3 AND status = ANY\(\$4\)`).
		WithArgs(s.TherapistID, from, to, []string{"scheduled", "confirmed"}).
		WillReturnRows(sessionRows(s))

	list, err := store.List(context.Background(), Filter{TherapistID: s.TherapistID, From: from, To: to, Statuses: []Status{StatusScheduled, StatusConfirmed}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != s.ID {
		t.Fatalf("unexpected list: %#v", list)
	}
}
