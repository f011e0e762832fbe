// Package identity carries the authenticated caller through request contexts.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the capability class of a caller.
type Role string

const (
	RoleClient    Role = "client"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes a role claim.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleClient, RoleTherapist, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("identity: unknown role %q", s)
	}
}

// Actor is the resolved caller of an operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (a Actor) IsAdmin() bool     { return a.Role == RoleAdmin }
func (a Actor) IsTherapist() bool { return a.Role == RoleTherapist }
func (a Actor) IsClient() bool    { return a.Role == RoleClient }

// IsStaff reports therapists and admins.
func (a Actor) IsStaff() bool { return a.IsTherapist() || a.IsAdmin() }

type contextKey string

const actorKey contextKey = "actor"

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext returns the actor set by the auth middleware.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
