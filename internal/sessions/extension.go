package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
)

// DefaultExtensionReason is stored when the requester gives none.
const DefaultExtensionReason = "Therapist requested extension"

// Extension is one approved lengthening of a running session.
type Extension struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	Sequence    int       `json:"sequence"`
	Minutes     int       `json:"minutes"`
	RequestedBy uuid.UUID `json:"requested_by"`
	Reason      string    `json:"reason"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExtensionResult summarizes usage after a granted extension.
type ExtensionResult struct {
	Extension    Extension `json:"extension"`
	Used         int       `json:"extensions_used"`
	TotalMinutes int       `json:"total_extended_minutes"`
	Remaining    int       `json:"remaining_extensions"`
}

// ExtensionUsage is the per-session extension summary shown in listings.
type ExtensionUsage struct {
	Used          int `json:"extensions_used"`
	Max           int `json:"max_extensions"`
	TotalExtended int `json:"total_extended"`
}

// Usage reports the session's extension counters against the limit.
func (s *Session) Usage(rules Rules) ExtensionUsage {
	rules = rules.withDefaults()
	return ExtensionUsage{Used: s.ExtensionsUsed, Max: rules.MaxExtensions, TotalExtended: s.ExtendedMinutes}
}

// grantExtension validates a request against prior grants and applies it to s.
// Callers must hold the session exclusively so prior is current.
func grantExtension(s *Session, prior int, requester identity.Actor, reason string, now time.Time, rules Rules) (*Extension, ExtensionResult, error) {
	switch {
	case requester.IsAdmin():
	case requester.IsTherapist() && requester.ID == s.TherapistID:
	default:
		return nil, ExtensionResult{}, apperr.Forbidden("only the session therapist or an admin can extend a session")
	}
	if s.Status != StatusInProgress {
		return nil, ExtensionResult{}, apperr.InvalidState("only sessions in progress can be extended").
			With("status", string(s.Status))
	}
	if prior >= rules.MaxExtensions {
		return nil, ExtensionResult{}, apperr.New(apperr.KindExtensionLimitReached,
			"maximum of %d extensions reached", rules.MaxExtensions).
			With("extensions_used", prior)
	}
	if reason == "" {
		reason = DefaultExtensionReason
	}

	ext := &Extension{
		ID:          uuid.New(),
		SessionID:   s.ID,
		Sequence:    prior + 1,
		Minutes:     rules.ExtensionMinutes,
		RequestedBy: requester.ID,
		Reason:      reason,
		Approved:    true,
		CreatedAt:   now.UTC(),
	}
	s.ExtensionsUsed = ext.Sequence
	s.ExtendedMinutes += ext.Minutes
	s.UpdatedAt = now.UTC()

	remaining := rules.MaxExtensions - 1 - prior
	if remaining < 0 {
		remaining = 0
	}
	return ext, ExtensionResult{
		Extension:    *ext,
		Used:         ext.Sequence,
		TotalMinutes: s.ExtendedMinutes,
		Remaining:    remaining,
	}, nil
}
