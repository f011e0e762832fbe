package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
)

func TestComputePermissions(t *testing.T) {
	s := newSession(StatusScheduled)
	c := NewJoinControl(s.ID, DefaultRules())

	before := ComputePermissions(s, c, start.Add(-60*time.Minute))
	assert.False(t, before.Client)
	assert.False(t, before.Therapist)
	assert.True(t, before.Admin)
	assert.Equal(t, 55, before.MinutesUntilOpen)
	assert.Equal(t, start.Add(-5*time.Minute), before.OpensAt)
	assert.Equal(t, start.Add(30*time.Minute), before.ClosesAt)

	open := ComputePermissions(s, c, start.Add(-5*time.Minute))
	assert.True(t, open.Client)
	assert.True(t, open.Therapist)
	assert.Equal(t, 0, open.MinutesUntilOpen)

	closed := ComputePermissions(s, c, start.Add(31*time.Minute))
	assert.False(t, closed.Client)
	assert.True(t, closed.Admin)

	done := newSession(StatusCompleted)
	assert.False(t, ComputePermissions(done, c, start).Therapist)
}

func TestRecordJoinTooEarly(t *testing.T) {
	s := newSession(StatusScheduled)
	c := NewJoinControl(s.ID, DefaultRules())

	err := RecordJoin(s, &c, clientOf(s), start.Add(-60*time.Minute))
	require.ErrorIs(t, err, apperr.ErrJoinWindowNotYetOpen)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 55, appErr.Details["minutes_until_open"])
	assert.Equal(t, StatusScheduled, s.Status)
	assert.Nil(t, c.ClientJoinedAt)
}

func TestRecordJoinPromotesOnce(t *testing.T) {
	s := newSession(StatusConfirmed)
	c := NewJoinControl(s.ID, DefaultRules())
	first := start.Add(-4 * time.Minute)

	require.NoError(t, RecordJoin(s, &c, clientOf(s), first))
	assert.Equal(t, StatusInProgress, s.Status)
	assert.Equal(t, first, *s.ActualStartAt)
	assert.Equal(t, first, *c.ClientJoinedAt)

	// Therapist arriving later does not move the actual start.
	require.NoError(t, RecordJoin(s, &c, therapistOf(s), start.Add(2*time.Minute)))
	assert.Equal(t, first, *s.ActualStartAt)
	assert.Equal(t, start.Add(2*time.Minute), *c.TherapistJoinedAt)

	// Re-join keeps the first timestamp.
	require.NoError(t, RecordJoin(s, &c, clientOf(s), start.Add(10*time.Minute)))
	assert.Equal(t, first, *c.ClientJoinedAt)
}

func TestRecordJoinLateBound(t *testing.T) {
	s := newSession(StatusScheduled)
	c := NewJoinControl(s.ID, DefaultRules())

	require.NoError(t, RecordJoin(s, &c, therapistOf(s), start.Add(30*time.Minute)), "late boundary is inclusive")

	late := newSession(StatusScheduled)
	lc := NewJoinControl(late.ID, DefaultRules())
	assert.ErrorIs(t, RecordJoin(late, &lc, clientOf(late), start.Add(31*time.Minute)), apperr.ErrJoinWindowClosed)
}

func TestRecordJoinAdminBypassesWindow(t *testing.T) {
	s := newSession(StatusScheduled)
	c := NewJoinControl(s.ID, DefaultRules())
	at := start.Add(-3 * time.Hour)

	require.NoError(t, RecordJoin(s, &c, admin, at))
	assert.Equal(t, at, *c.AdminJoinedAt)
	assert.Equal(t, StatusScheduled, s.Status, "admin presence does not start the session")
	assert.Nil(t, s.ActualStartAt)
}

func TestRecordJoinRejectsTerminalAndStrangers(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled} {
		s := newSession(status)
		c := NewJoinControl(s.ID, DefaultRules())
		assert.ErrorIs(t, RecordJoin(s, &c, admin, start), apperr.ErrInvalidState, string(status))
		assert.ErrorIs(t, RecordJoin(s, &c, clientOf(s), start), apperr.ErrInvalidState, string(status))
	}

	s := newSession(StatusScheduled)
	c := NewJoinControl(s.ID, DefaultRules())
	stranger := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
	assert.ErrorIs(t, RecordJoin(s, &c, stranger, start), apperr.ErrForbidden)
}

type countingProvider struct{ calls int }

func (p *countingProvider) CreateRoom(_ context.Context, s *Session) (Room, error) {
	p.calls++
	return Room{ID: "room-" + s.ID.String()[:8], Password: "pw", Link: "https://meet.test/room"}, nil
}

func TestEnsureMeetingRoomIsIdempotent(t *testing.T) {
	s := newSession(StatusScheduled)
	c := NewJoinControl(s.ID, DefaultRules())
	provider := &countingProvider{}

	require.NoError(t, EnsureMeetingRoom(context.Background(), s, &c, provider))
	require.NoError(t, EnsureMeetingRoom(context.Background(), s, &c, provider))

	assert.Equal(t, 1, provider.calls)
	assert.True(t, c.RoomCreated)
	assert.Equal(t, c.RoomID, s.Meeting.ID)
	assert.Equal(t, "https://meet.test/room", s.Meeting.Link)
}

func TestLinkProvider(t *testing.T) {
	s := newSession(StatusScheduled)
	room, err := NewLinkProvider("https://meet.example.com/room/").CreateRoom(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, room.Password, 12)
	assert.Equal(t, "https://meet.example.com/room/"+room.ID, room.Link)
}
