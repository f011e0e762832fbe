package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// JoinControl tracks who has entered a session room.
type JoinControl struct {
	SessionID         uuid.UUID  `json:"session_id"`
	EarlyJoinMinutes  int        `json:"early_join_minutes"`
	LateJoinMinutes   int        `json:"late_join_minutes"`
	ClientJoinedAt    *time.Time `json:"client_joined_at,omitempty"`
	TherapistJoinedAt *time.Time `json:"therapist_joined_at,omitempty"`
	AdminJoinedAt     *time.Time `json:"admin_joined_at,omitempty"`
	RoomCreated       bool       `json:"room_created"`
	RoomID            string     `json:"room_id,omitempty"`
	RoomPassword      string     `json:"-"`
}

// NewJoinControl builds the join record for a freshly booked session.
func NewJoinControl(sessionID uuid.UUID, rules Rules) JoinControl {
	rules = rules.withDefaults()
	return JoinControl{
		SessionID:        sessionID,
		EarlyJoinMinutes: int(rules.EarlyJoin / time.Minute),
		LateJoinMinutes:  int(rules.LateJoin / time.Minute),
	}
}

// Window is the closed interval participants may join in.
func (c JoinControl) Window(s *Session) timewindow.Window {
	return timewindow.Around(s.ScheduledAt,
		time.Duration(c.EarlyJoinMinutes)*time.Minute,
		time.Duration(c.LateJoinMinutes)*time.Minute)
}

// Permissions is the derived join matrix for one instant. It is never stored.
type Permissions struct {
	Client           bool      `json:"client"`
	Therapist        bool      `json:"therapist"`
	Admin            bool      `json:"admin"`
	OpensAt          time.Time `json:"opens_at"`
	ClosesAt         time.Time `json:"closes_at"`
	MinutesUntilOpen int       `json:"minutes_until_open"`
}

// ComputePermissions evaluates who may join at now.
func ComputePermissions(s *Session, c JoinControl, now time.Time) Permissions {
	w := c.Window(s)
	open := s.CanJoin(now, c)
	return Permissions{
		Client:           open,
		Therapist:        open,
		Admin:            true,
		OpensAt:          w.Start,
		ClosesAt:         w.End,
		MinutesUntilOpen: timewindow.MinutesUntil(now, w.Start),
	}
}

// RecordJoin admits actor into the session. The first client or therapist
// join promotes an upcoming session to in progress. Admins bypass the window
// but never start the session. Re-joining is a no-op.
func RecordJoin(s *Session, c *JoinControl, actor identity.Actor, now time.Time) error {
	if s.IsTerminal() {
		return apperr.InvalidState("session is %s", s.Status).With("status", string(s.Status))
	}
	at := now.UTC()

	if actor.IsAdmin() {
		if c.AdminJoinedAt == nil {
			c.AdminJoinedAt = &at
		}
		return nil
	}
	if !s.IsParticipant(actor) {
		return apperr.Forbidden("actor is not a participant of this session")
	}

	w := c.Window(s)
	if w.Before(now) {
		minutes := timewindow.MinutesUntil(now, w.Start)
		return apperr.New(apperr.KindJoinWindowNotYetOpen, "session can be joined in %d minutes", minutes).
			With("minutes_until_open", minutes).
			With("opens_at", w.Start)
	}
	if w.After(now) {
		return apperr.New(apperr.KindJoinWindowClosed, "join window closed %d minutes after the scheduled start", c.LateJoinMinutes).
			With("closed_at", w.End)
	}

	switch actor.Role {
	case identity.RoleClient:
		if c.ClientJoinedAt == nil {
			c.ClientJoinedAt = &at
		}
	case identity.RoleTherapist:
		if c.TherapistJoinedAt == nil {
			c.TherapistJoinedAt = &at
		}
	}
	return s.Start(now)
}

// Room is a provisioned video room.
type Room struct {
	ID       string
	Password string
	Link     string
}

// MeetingProvider provisions video rooms.
type MeetingProvider interface {
	CreateRoom(ctx context.Context, s *Session) (Room, error)
}

// EnsureMeetingRoom provisions the session room exactly once.
func EnsureMeetingRoom(ctx context.Context, s *Session, c *JoinControl, provider MeetingProvider) error {
	if c.RoomCreated {
		if s.Meeting.ID == "" {
			s.Meeting.ID = c.RoomID
			s.Meeting.Password = c.RoomPassword
		}
		return nil
	}
	if provider == nil {
		return fmt.Errorf("sessions: ensure room: no meeting provider configured")
	}
	room, err := provider.CreateRoom(ctx, s)
	if err != nil {
		return fmt.Errorf("sessions: ensure room: %w", err)
	}
	c.RoomCreated = true
	c.RoomID = room.ID
	c.RoomPassword = room.Password
	s.Meeting = Meeting{Link: room.Link, ID: room.ID, Password: room.Password}
	return nil
}
