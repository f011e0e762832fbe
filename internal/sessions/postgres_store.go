package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const sessionColumns = `id, session_type, client_id, therapist_id, slot_id, scheduled_at, duration_minutes, timezone, title, notes, status,
	actual_start_at, actual_end_at, actual_duration_minutes,
	cancellation_reason, cancellation_notes, cancelled_by, cancelled_at,
	meeting_link, meeting_id, meeting_password, payment_ref,
	confirmation_sent, reminder_sent_24h, reminder_sent_1h,
	rescheduled_from, rescheduled_to, extensions_used, extended_minutes, created_at, updated_at`

const joinControlColumns = `session_id, early_join_minutes, late_join_minutes, client_joined_at, therapist_joined_at, admin_joined_at, room_created, room_id, room_password`

const extensionColumns = `id, session_id, sequence, minutes, requested_by, reason, approved, created_at`

// PostgresStore persists sessions in therapy_sessions, join_controls and
// session_extensions.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a postgres-backed session store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, s *Session, c *JoinControl) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessions: create: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO therapy_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		sessionArgs(s)...); err != nil {
		return fmt.Errorf("sessions: insert session: %w", err)
	}
	if c != nil {
		if err := upsertJoinControl(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sessions: create: commit: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM therapy_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) GetJoinControl(ctx context.Context, sessionID uuid.UUID) (*JoinControl, error) {
	c, err := scanJoinControl(p.db.QueryRow(ctx, `SELECT `+joinControlColumns+` FROM join_controls WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("join control for session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get join control: %w", err)
	}
	return c, nil
}

// Update locks the session row for the duration of fn.
func (p *PostgresStore) Update(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Session, *JoinControl, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sessions: update: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM therapy_sessions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sessions: update: lock session: %w", err)
	}
	c, err := scanJoinControl(tx.QueryRow(ctx, `SELECT `+joinControlColumns+` FROM join_controls WHERE session_id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		fresh := NewJoinControl(id, DefaultRules())
		c, err = &fresh, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sessions: update: lock join control: %w", err)
	}

	if err := fn(s, c); err != nil {
		return nil, nil, err
	}
	if err := updateSession(ctx, tx, s); err != nil {
		return nil, nil, err
	}
	if err := upsertJoinControl(ctx, tx, c); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("sessions: update: commit: %w", err)
	}
	return s, c, nil
}

// AppendExtension counts prior grants while holding the session row lock.
// UNIQUE(session_id, sequence) and the sequence CHECK are the last line.
func (p *PostgresStore) AppendExtension(ctx context.Context, sessionID uuid.UUID, fn ExtendFunc) (*Session, *Extension, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sessions: extend: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM therapy_sessions WHERE id = $1 FOR UPDATE`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, apperr.NotFound("session %s not found", sessionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sessions: extend: lock session: %w", err)
	}
	var prior int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM session_extensions WHERE session_id = $1`, sessionID).Scan(&prior); err != nil {
		return nil, nil, fmt.Errorf("sessions: extend: count: %w", err)
	}

	ext, err := fn(s, prior)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.Exec(ctx, `INSERT INTO session_extensions (`+extensionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ext.ID, ext.SessionID, ext.Sequence, ext.Minutes, ext.RequestedBy, ext.Reason, ext.Approved, ext.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23514") {
			return nil, nil, apperr.Wrap(apperr.KindExtensionLimitReached, err, "extension %d rejected", ext.Sequence)
		}
		return nil, nil, fmt.Errorf("sessions: extend: insert: %w", err)
	}
	if err := updateSession(ctx, tx, s); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("sessions: extend: commit: %w", err)
	}
	return s, ext, nil
}

func (p *PostgresStore) ListExtensions(ctx context.Context, sessionID uuid.UUID) ([]Extension, error) {
	rows, err := p.db.Query(ctx, `SELECT `+extensionColumns+` FROM session_extensions WHERE session_id = $1 ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list extensions: %w", err)
	}
	defer rows.Close()

	var out []Extension
	for rows.Next() {
		var e Extension
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Sequence, &e.Minutes, &e.RequestedBy, &e.Reason, &e.Approved, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan extension: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]Session, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.TherapistID != uuid.Nil {
		add("therapist_id = $%d", f.TherapistID)
	}
	if !f.From.IsZero() {
		add("scheduled_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("scheduled_at < $%d", f.To)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	query := `SELECT ` + sessionColumns + ` FROM therapy_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_at ASC`
	return p.query(ctx, "list", query, args...)
}

func (p *PostgresStore) ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return p.query(ctx, "list no-show candidates", `SELECT `+sessionColumns+` FROM therapy_sessions
		WHERE status IN ('scheduled', 'confirmed') AND actual_start_at IS NULL AND scheduled_at < $1
		ORDER BY scheduled_at ASC`, cutoff)
}

func (p *PostgresStore) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]Session, error) {
	return p.query(ctx, "list reminder candidates", `SELECT `+sessionColumns+` FROM therapy_sessions
		WHERE status IN ('scheduled', 'confirmed') AND scheduled_at BETWEEN $1 AND $2
		ORDER BY scheduled_at ASC`, from, to)
}

func (p *PostgresStore) query(ctx context.Context, op, sql string, args ...any) ([]Session, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: %s: %w", op, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: %s: scan: %w", op, err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateSession(ctx context.Context, tx execer, s *Session) error {
	all := sessionArgs(s)
	// id, then the mutable columns in the order of the SET list below.
	args := []any{all[0]}
	for _, i := range []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 22, 23, 24, 26, 27, 28, 30, 9} {
		args = append(args, all[i])
	}
	_, err := tx.Exec(ctx, `UPDATE therapy_sessions SET
		status = $2, actual_start_at = $3, actual_end_at = $4, actual_duration_minutes = $5,
		cancellation_reason = $6, cancellation_notes = $7, cancelled_by = $8, cancelled_at = $9,
		meeting_link = $10, meeting_id = $11, meeting_password = $12,
		confirmation_sent = $13, reminder_sent_24h = $14, reminder_sent_1h = $15,
		rescheduled_to = $16, extensions_used = $17, extended_minutes = $18, updated_at = $19, notes = $20
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("sessions: update session: %w", err)
	}
	return nil
}

func upsertJoinControl(ctx context.Context, tx execer, c *JoinControl) error {
	_, err := tx.Exec(ctx, `INSERT INTO join_controls (`+joinControlColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			client_joined_at = EXCLUDED.client_joined_at,
			therapist_joined_at = EXCLUDED.therapist_joined_at,
			admin_joined_at = EXCLUDED.admin_joined_at,
			room_created = EXCLUDED.room_created,
			room_id = EXCLUDED.room_id,
			room_password = EXCLUDED.room_password`,
		c.SessionID, c.EarlyJoinMinutes, c.LateJoinMinutes, c.ClientJoinedAt, c.TherapistJoinedAt,
		c.AdminJoinedAt, c.RoomCreated, c.RoomID, c.RoomPassword)
	if err != nil {
		return fmt.Errorf("sessions: upsert join control: %w", err)
	}
	return nil
}

func sessionArgs(s *Session) []any {
	var reason, notes *string
	var cancelledBy *uuid.UUID
	var cancelledAt *time.Time
	if c := s.Cancellation; c != nil {
		r := string(c.Reason)
		reason, notes = &r, &c.Notes
		if c.ActorID != uuid.Nil {
			id := c.ActorID
			cancelledBy = &id
		}
		at := c.At
		cancelledAt = &at
	}
	return []any{
		s.ID, string(s.Type), s.ClientID, s.TherapistID, s.SlotID, s.ScheduledAt, s.DurationMinutes,
		s.Timezone, s.Title, s.Notes, string(s.Status),
		s.ActualStartAt, s.ActualEndAt, s.ActualDurationMinutes,
		reason, notes, cancelledBy, cancelledAt,
		s.Meeting.Link, s.Meeting.ID, s.Meeting.Password, s.PaymentRef,
		s.Reminders.Confirmation, s.Reminders.Day, s.Reminders.Hour,
		s.RescheduledFrom, s.RescheduledTo, s.ExtensionsUsed, s.ExtendedMinutes, s.CreatedAt, s.UpdatedAt,
	}
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var sessionType, status string
	var reason, notes *string
	var cancelledBy *uuid.UUID
	var cancelledAt *time.Time
	err := row.Scan(
		&s.ID, &sessionType, &s.ClientID, &s.TherapistID, &s.SlotID, &s.ScheduledAt, &s.DurationMinutes,
		&s.Timezone, &s.Title, &s.Notes, &status,
		&s.ActualStartAt, &s.ActualEndAt, &s.ActualDurationMinutes,
		&reason, &notes, &cancelledBy, &cancelledAt,
		&s.Meeting.Link, &s.Meeting.ID, &s.Meeting.Password, &s.PaymentRef,
		&s.Reminders.Confirmation, &s.Reminders.Day, &s.Reminders.Hour,
		&s.RescheduledFrom, &s.RescheduledTo, &s.ExtensionsUsed, &s.ExtendedMinutes, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Type = Type(sessionType)
	s.Status = Status(status)
	s.ScheduledAt = s.ScheduledAt.UTC()
	if reason != nil {
		c := &Cancellation{Reason: CancellationReason(*reason)}
		if notes != nil {
			c.Notes = *notes
		}
		if cancelledBy != nil {
			c.ActorID = *cancelledBy
		}
		if cancelledAt != nil {
			c.At = *cancelledAt
		}
		s.Cancellation = c
	}
	return &s, nil
}

func scanJoinControl(row pgx.Row) (*JoinControl, error) {
	var c JoinControl
	err := row.Scan(&c.SessionID, &c.EarlyJoinMinutes, &c.LateJoinMinutes, &c.ClientJoinedAt,
		&c.TherapistJoinedAt, &c.AdminJoinedAt, &c.RoomCreated, &c.RoomID, &c.RoomPassword)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
