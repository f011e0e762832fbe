package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
)

type mockEmailSender struct {
	sent   []EmailMessage
	failOn string
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func testSession() sessions.Session {
	return sessions.Session{
		ID:              uuid.New(),
		Type:            sessions.TypeIndividual,
		ClientID:        uuid.New(),
		TherapistID:     uuid.New(),
		ScheduledAt:     time.Date(2026, 3, 20, 4, 30, 0, 0, time.UTC),
		DurationMinutes: 50,
		Timezone:        "Asia/Kolkata",
		Status:          sessions.StatusScheduled,
	}
}

func directoryFor(sess sessions.Session) *StaticDirectory {
	dir := NewStaticDirectory()
	dir.Put(sess.ClientID, Contact{Email: "client@example.com", Name: "Client"})
	dir.Put(sess.TherapistID, Contact{Email: "therapist@example.com", Name: "Therapist"})
	return dir
}

func TestNotify_BookingGoesToBothParticipants(t *testing.T) {
	sess := testSession()
	email := &mockEmailSender{}
	svc := NewService(email, directoryFor(sess), nil)

	if err := svc.Notify(context.Background(), Notice{Kind: KindBookingConfirmation, Session: sess}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.Category != "booking_confirmation" {
		t.Errorf("unexpected category %q", msg.Category)
	}
	if !strings.Contains(msg.Body, "Friday, March 20 at 10:00 AM (IST)") {
		t.Errorf("expected local start time in body, got %q", msg.Body)
	}
}

func TestNotify_ExtensionGoesToClientOnly(t *testing.T) {
	sess := testSession()
	email := &mockEmailSender{}
	svc := NewService(email, directoryFor(sess), nil)

	ext := &sessions.ExtensionResult{Extension: sessions.Extension{Minutes: 10}, Used: 1, Remaining: 2}
	if err := svc.Notify(context.Background(), Notice{Kind: KindExtension, Session: sess, Extension: ext}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 1 || email.sent[0].To != "client@example.com" {
		t.Fatalf("expected one email to the client, got %+v", email.sent)
	}
	if !strings.Contains(email.sent[0].Body, "Extensions remaining: 2") {
		t.Errorf("unexpected body %q", email.sent[0].Body)
	}
}

func TestNotify_SkipsMissingContactsAndReportsFailures(t *testing.T) {
	sess := testSession()
	dir := NewStaticDirectory()
	dir.Put(sess.TherapistID, Contact{Email: "therapist@example.com"})
	email := &mockEmailSender{failOn: "therapist@example.com"}
	svc := NewService(email, dir, nil)

	err := svc.Notify(context.Background(), Notice{Kind: KindReminderDay, Session: sess})
	if err == nil || !strings.Contains(err.Error(), "1 notification(s) failed") {
		t.Fatalf("expected one failure, got %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatalf("expected nothing sent, got %d", len(email.sent))
	}
}

func TestNotify_UnknownKind(t *testing.T) {
	sess := testSession()
	svc := NewService(&mockEmailSender{}, directoryFor(sess), nil)
	if err := svc.Notify(context.Background(), Notice{Kind: "bogus", Session: sess}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNotify_NoSenderIsNoop(t *testing.T) {
	if err := NewService(nil, nil, nil).Notify(context.Background(), Notice{Kind: KindCancellation, Session: testSession()}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestPostgresDirectory_Lookup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	known, unknown := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT email, display_name FROM user_contacts").WithArgs(known).
		WillReturnRows(pgxmock.NewRows([]string{"email", "display_name"}).AddRow("client@example.com", "Client"))
	mock.ExpectQuery("SELECT email, display_name FROM user_contacts").WithArgs(unknown).
		WillReturnRows(pgxmock.NewRows([]string{"email", "display_name"}))

	dir := NewPostgresDirectory(mock)
	c, err := dir.Lookup(context.Background(), known)
	if err != nil || c.Email != "client@example.com" {
		t.Fatalf("unexpected lookup result %+v, %v", c, err)
	}
	c, err = dir.Lookup(context.Background(), unknown)
	if err != nil || c.Email != "" {
		t.Fatalf("expected empty contact, got %+v, %v", c, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
