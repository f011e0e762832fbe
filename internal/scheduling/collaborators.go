package scheduling

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/events"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/notify"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
)

// Notifier delivers participant notices.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) error
}

// Publisher broadcasts session lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt events.SessionEvent) error
}

// AuditLogger records decisions that must be reviewable later.
type AuditLogger interface {
	LogCancellation(ctx context.Context, sess *sessions.Session, actor identity.Actor) error
	LogReschedule(ctx context.Context, old *sessions.Session, replacement uuid.UUID, actor identity.Actor) error
	LogExtension(ctx context.Context, sess *sessions.Session, ext sessions.Extension, actor identity.Actor) error
	LogAdminJoin(ctx context.Context, sess *sessions.Session, actor identity.Actor) error
	LogNoShow(ctx context.Context, sess *sessions.Session) error
	LogSlotBlocked(ctx context.Context, slot *availability.Slot, actor identity.Actor) error
	LogSlotDeleted(ctx context.Context, slot *availability.Slot, actor identity.Actor) error
}

// PaymentGate decides whether a booking has been paid for.
type PaymentGate interface {
	Verify(ctx context.Context, clientID uuid.UUID, paymentRef string) error
}

// ReferenceGate accepts any non-empty payment reference. Settlement happens
// upstream of this service.
type ReferenceGate struct{}

func (ReferenceGate) Verify(_ context.Context, _ uuid.UUID, paymentRef string) error {
	if strings.TrimSpace(paymentRef) == "" {
		return apperr.New(apperr.KindPaymentRequired, "a payment reference is required to book")
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Notice) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.SessionEvent) error { return nil }

type nopAudit struct{}

func (nopAudit) LogCancellation(context.Context, *sessions.Session, identity.Actor) error {
	return nil
}

func (nopAudit) LogReschedule(context.Context, *sessions.Session, uuid.UUID, identity.Actor) error {
	return nil
}

func (nopAudit) LogExtension(context.Context, *sessions.Session, sessions.Extension, identity.Actor) error {
	return nil
}

func (nopAudit) LogAdminJoin(context.Context, *sessions.Session, identity.Actor) error {
	return nil
}

func (nopAudit) LogNoShow(context.Context, *sessions.Session) error {
	return nil
}

func (nopAudit) LogSlotBlocked(context.Context, *availability.Slot, identity.Actor) error {
	return nil
}

func (nopAudit) LogSlotDeleted(context.Context, *availability.Slot, identity.Actor) error {
	return nil
}
