package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Contact is how a participant is reached.
type Contact struct {
	Email string
	Name  string
}

// Directory resolves participant ids to contacts. A zero Contact means
// the participant has no address on file.
type Directory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// StaticDirectory is an in-memory directory.
type StaticDirectory struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]Contact
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{contacts: make(map[uuid.UUID]Contact)}
}

func (d *StaticDirectory) Put(userID uuid.UUID, c Contact) {
	d.mu.Lock()
	d.contacts[userID] = c
	d.mu.Unlock()
}

func (d *StaticDirectory) Lookup(_ context.Context, userID uuid.UUID) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contacts[userID], nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads the user_contacts table.
type PostgresDirectory struct {
	db queryRower
}

func NewPostgresDirectory(db queryRower) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, userID uuid.UUID) (Contact, error) {
	var c Contact
	err := d.db.QueryRow(ctx, `SELECT email, display_name FROM user_contacts WHERE user_id = $1`, userID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, nil
	}
	if err != nil {
		return Contact{}, fmt.Errorf("notify: lookup contact: %w", err)
	}
	return c, nil
}
