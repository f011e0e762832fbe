package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const slotColumns = `id, therapist_id, slot_date, starts_at, ends_at, duration_minutes, status, recurrence_type, recurrence_end_date, session_id, notes, created_at, updated_at`

// PostgresStore persists slots in the availability_slots table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a postgres-backed slot store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Insert writes the batch in one transaction. The unique and exclusion
// constraints on the table reject overlapping slots.
func (s *PostgresStore) Insert(ctx context.Context, slots []Slot) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("availability: insert: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, slot := range slots {
		if err := insertSlot(ctx, tx, slot); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("availability: insert: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id)
	slot, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("slot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("availability: get slot: %w", err)
	}
	return slot, nil
}

func (s *PostgresStore) FindByStart(ctx context.Context, therapistID uuid.UUID, startsAt time.Time) (*Slot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+slotColumns+` FROM availability_slots
		WHERE therapist_id = $1 AND starts_at = $2`, therapistID, startsAt)
	slot, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no slot for therapist %s at %s", therapistID, startsAt.Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("availability: find slot by start: %w", err)
	}
	return slot, nil
}

func (s *PostgresStore) ListByTherapist(ctx context.Context, therapistID uuid.UUID, fromDate, toDate time.Time) ([]Slot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+slotColumns+` FROM availability_slots
		WHERE therapist_id = $1 AND slot_date BETWEEN $2 AND $3
		ORDER BY starts_at ASC`, therapistID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("availability: list slots: %w", err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("availability: scan slot: %w", err)
		}
		out = append(out, *slot)
	}
	return out, rows.Err()
}

// Update rewrites an unbooked slot.
func (s *PostgresStore) Update(ctx context.Context, slot *Slot) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE availability_slots
		SET starts_at = $2, ends_at = $3, duration_minutes = $4, status = $5, notes = $6, updated_at = $7
		WHERE id = $1 AND status <> 'booked'`,
		slot.ID, slot.StartsAt, slot.EndsAt, slot.DurationMinutes, string(slot.Status), slot.Notes, slot.UpdatedAt,
	)
	if err != nil {
		if isConflict(err) {
			return apperr.Wrap(apperr.KindOverlap, err, "slot %s overlaps an existing slot", slot.ID)
		}
		return fmt.Errorf("availability: update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrBooked(ctx, slot.ID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM availability_slots WHERE id = $1 AND status <> 'booked'`, id)
	if err != nil {
		return fmt.Errorf("availability: delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrBooked(ctx, id)
	}
	return nil
}

// Claim books the slot only if it is still available.
func (s *PostgresStore) Claim(ctx context.Context, slotID, sessionID uuid.UUID) (*Slot, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE availability_slots SET status = 'booked', session_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'available'`, slotID, sessionID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("availability: claim slot: %w", err)
	}
	if tag.RowsAffected() != 1 {
		var status string
		err := s.db.QueryRow(ctx, `SELECT status FROM availability_slots WHERE id = $1`, slotID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("slot %s not found", slotID)
		}
		if err != nil {
			return nil, fmt.Errorf("availability: claim slot: lookup: %w", err)
		}
		return nil, apperr.New(apperr.KindSlotNotAvailable, "slot %s is %s", slotID, status)
	}
	return s.Get(ctx, slotID)
}

// ClaimPart locks the slot row, shrinks it to part as a booked slot and
// inserts the uncovered remainder, all in one transaction.
func (s *PostgresStore) ClaimPart(ctx context.Context, slotID, sessionID uuid.UUID, part timewindow.Interval) (*Slot, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("availability: claim part: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	slot, err := scanSlot(tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1 FOR UPDATE`, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("slot %s not found", slotID)
	}
	if err != nil {
		return nil, fmt.Errorf("availability: claim part: lock: %w", err)
	}
	claimed, rest, err := carve(*slot, sessionID, part, time.Now())
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE availability_slots
		SET starts_at = $2, ends_at = $3, duration_minutes = $4, status = 'booked', session_id = $5, updated_at = $6
		WHERE id = $1`,
		claimed.ID, claimed.StartsAt, claimed.EndsAt, claimed.DurationMinutes, sessionID, claimed.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("availability: claim part: %w", err)
	}
	for _, r := range rest {
		if err := insertSlot(ctx, tx, r); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("availability: claim part: commit: %w", err)
	}
	return &claimed, nil
}

func insertSlot(ctx context.Context, tx pgx.Tx, slot Slot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO availability_slots (`+slotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		slot.ID, slot.TherapistID, slot.Date, slot.StartsAt, slot.EndsAt, slot.DurationMinutes,
		string(slot.Status), string(slot.Recurrence.Type), slot.Recurrence.EndDate, slot.SessionID,
		slot.Notes, slot.CreatedAt, slot.UpdatedAt,
	)
	if err != nil {
		if isConflict(err) {
			return apperr.Wrap(apperr.KindOverlap, err, "slot on %s overlaps an existing slot", slot.Date.Format("2006-01-02"))
		}
		return fmt.Errorf("availability: insert slot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE availability_slots SET status = 'available', session_id = NULL, updated_at = $2
		WHERE session_id = $1`, sessionID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("availability: release slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) missingOrBooked(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM availability_slots WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("slot %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("availability: lookup slot: %w", err)
	}
	return apperr.InvalidState("slot %s is %s", id, status)
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var slot Slot
	var status, recurrence string
	err := row.Scan(
		&slot.ID, &slot.TherapistID, &slot.Date, &slot.StartsAt, &slot.EndsAt, &slot.DurationMinutes,
		&status, &recurrence, &slot.Recurrence.EndDate, &slot.SessionID, &slot.Notes,
		&slot.CreatedAt, &slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	slot.Status = Status(status)
	slot.Recurrence.Type = RecurrenceType(recurrence)
	slot.StartsAt = slot.StartsAt.UTC()
	slot.EndsAt = slot.EndsAt.UTC()
	return &slot, nil
}

// isConflict reports unique (23505) and exclusion (23P01) violations.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23P01"
	}
	return false
}
