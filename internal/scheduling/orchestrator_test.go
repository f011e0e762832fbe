package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/config"
	"github.com/wolfman30/teletherapy-scheduler/internal/events"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/notify"
	"github.com/wolfman30/teletherapy-scheduler/internal/observability/metrics"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Tuesday morning; the first bookable civil date is the 13th.
var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

func hours(h, m int) time.Duration { return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, notice notify.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Kind
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []string
}

func (a *recordingAudit) add(kind string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, kind)
	return nil
}

func (a *recordingAudit) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.entries...)
}

func (a *recordingAudit) LogCancellation(context.Context, *sessions.Session, identity.Actor) error {
	return a.add("cancellation")
}

func (a *recordingAudit) LogReschedule(context.Context, *sessions.Session, uuid.UUID, identity.Actor) error {
	return a.add("reschedule")
}

func (a *recordingAudit) LogExtension(context.Context, *sessions.Session, sessions.Extension, identity.Actor) error {
	return a.add("extension")
}

func (a *recordingAudit) LogAdminJoin(context.Context, *sessions.Session, identity.Actor) error {
	return a.add("admin_join")
}

func (a *recordingAudit) LogNoShow(context.Context, *sessions.Session) error {
	return a.add("no_show")
}

func (a *recordingAudit) LogSlotBlocked(context.Context, *availability.Slot, identity.Actor) error {
	return a.add("slot_blocked")
}

func (a *recordingAudit) LogSlotDeleted(context.Context, *availability.Slot, identity.Actor) error {
	return a.add("slot_deleted")
}

type harness struct {
	o         *Orchestrator
	clock     *timewindow.FixedClock
	slots     *availability.MemoryStore
	store     *sessions.MemoryStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	audit     *recordingAudit
	stats     *MemoryTherapistStats
	registry  *prometheus.Registry

	therapist identity.Actor
	client    identity.Actor
	admin     identity.Actor
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	policy := config.DefaultPolicy()
	h := &harness{
		clock:     timewindow.NewFixedClock(base),
		slots:     availability.NewMemoryStore(),
		store:     sessions.NewMemoryStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		audit:     &recordingAudit{},
		stats:     NewMemoryTherapistStats(),
		registry:  prometheus.NewRegistry(),
		therapist: identity.Actor{ID: uuid.New(), Role: identity.RoleTherapist},
		client:    identity.Actor{ID: uuid.New(), Role: identity.RoleClient},
		admin:     identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin},
	}
	sessSvc := sessions.NewService(h.store, sessions.DefaultRules(), sessions.NewLinkProvider("https://meet.test/room"), logging.Default())
	slotSvc := availability.NewService(h.slots, sessSvc, availability.Options{
		Location: policy.Location,
		Notice:   policy.SlotNotice,
		Step:     policy.SlotStep,
		Horizon:  policy.RecurrenceHorizon,
	}, logging.Default())

	deps := Deps{
		Slots:     slotSvc,
		Sessions:  sessSvc,
		Clock:     h.clock,
		Policy:    policy,
		Notifier:  h.notifier,
		Publisher: h.publisher,
		Audit:     h.audit,
		Stats:     h.stats,
		Metrics:   metrics.NewSchedulingMetrics(h.registry),
		Logger:    logging.Default(),
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.o = New(deps)
	return h
}

func (h *harness) slot(t *testing.T, date time.Time, start, end time.Duration) availability.Slot {
	t.Helper()
	created, err := h.o.CreateSlots(context.Background(), h.therapist, []availability.CreateSlotInput{{
		Date: date, StartTime: start, EndTime: end,
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func (h *harness) book(t *testing.T, date time.Time, start time.Duration) *sessions.Session {
	t.Helper()
	sess, err := h.o.BookSession(context.Background(), h.client, BookingRequest{
		TherapistID: h.therapist.ID,
		Date:        date,
		StartTime:   start,
		Notes:       "prefers video off for the first minutes",
	})
	require.NoError(t, err)
	return sess
}

func (h *harness) slotStatus(t *testing.T, id uuid.UUID) availability.Status {
	t.Helper()
	slot, err := h.slots.Get(context.Background(), id)
	require.NoError(t, err)
	return slot.Status
}

func (h *harness) sideEffectFailures(collaborator string) float64 {
	families, err := h.registry.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() != "teletherapy_scheduling_side_effect_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "collaborator" && lp.GetValue() == collaborator {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestBookSessionClaimsSlotAndNotifies(t *testing.T) {
	h := newHarness(t)
	slot := h.slot(t, day(14), hours(10, 0), hours(11, 0))

	sess := h.book(t, day(14), hours(10, 0))
	h.o.Wait()

	assert.Equal(t, sessions.StatusScheduled, sess.Status)
	assert.Equal(t, h.client.ID, sess.ClientID)
	assert.Equal(t, slot.ID, sess.SlotID)
	assert.Equal(t, 60, sess.DurationMinutes)
	assert.Equal(t, sessions.TypeIndividual, sess.Type)
	assert.Equal(t, "UTC", sess.Timezone)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, slot.ID))

	assert.Equal(t, []notify.Kind{notify.KindBookingConfirmation}, h.notifier.kinds())
	assert.Equal(t, []events.Type{events.SessionBooked}, h.publisher.types())

	stored, err := h.store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.Reminders.Confirmation)
}

func TestBookSessionValidation(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	ctx := context.Background()

	_, err := h.o.BookSession(ctx, h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(12), StartTime: hours(9, 0)})
	assert.ErrorIs(t, err, apperr.ErrInsufficientNotice, "exactly 48 hours ahead is not enough")

	edge := availability.Slot{
		ID:              uuid.New(),
		TherapistID:     h.therapist.ID,
		Date:            day(12),
		StartsAt:        day(12).Add(hours(9, 1)),
		EndsAt:          day(12).Add(hours(10, 1)),
		DurationMinutes: 60,
		Status:          availability.StatusAvailable,
		Recurrence:      availability.Recurrence{Type: availability.RecurrenceNone},
		CreatedAt:       base,
		UpdatedAt:       base,
	}
	require.NoError(t, h.slots.Insert(ctx, []availability.Slot{edge}))
	justEnough, err := h.o.BookSession(ctx, h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(12), StartTime: hours(9, 1)})
	require.NoError(t, err, "one minute past the notice window books")
	assert.Equal(t, edge.ID, justEnough.SlotID)
	assert.Equal(t, 60, justEnough.DurationMinutes)

	stranger := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
	_, err = h.o.BookSession(ctx, stranger, BookingRequest{ClientID: h.client.ID, TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0)})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.o.BookSession(ctx, h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0), DurationMinutes: 90})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.o.BookSession(ctx, h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(12, 0)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.o.BookSession(ctx, h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0), Type: "hypnosis"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBookSessionRejectsDoubleBooking(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	h.book(t, day(14), hours(10, 0))

	other := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
	_, err := h.o.BookSession(context.Background(), other, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0)})
	assert.ErrorIs(t, err, apperr.ErrSlotNotAvailable)
	h.o.Wait()

	list, err := h.store.List(context.Background(), sessions.Filter{TherapistID: h.therapist.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBookSessionConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
			if _, err := h.o.BookSession(context.Background(), actor, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0)}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	h.o.Wait()
	assert.Equal(t, 1, wins)
}

func TestBookSessionRequiresPaymentWhenConfigured(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Policy.RequirePayment = true })
	h.slot(t, day(14), hours(10, 0), hours(11, 0))

	_, err := h.o.BookSession(context.Background(), h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0)})
	assert.ErrorIs(t, err, apperr.ErrPaymentRequired)

	sess, err := h.o.BookSession(context.Background(), h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(10, 0), PaymentRef: "pay_123"})
	require.NoError(t, err)
	assert.Equal(t, "pay_123", sess.PaymentRef)
}

func TestBookSessionSurvivesNotifierFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp unreachable")
	slot := h.slot(t, day(14), hours(10, 0), hours(11, 0))

	sess := h.book(t, day(14), hours(10, 0))
	h.o.Wait()

	assert.Equal(t, sessions.StatusScheduled, sess.Status)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, slot.ID))
	assert.Equal(t, float64(1), h.sideEffectFailures("notifier"))

	stored, err := h.store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reminders.Confirmation)
}

func TestJoinWindowAndAdminJoin(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	h.clock.Set(sess.ScheduledAt.Add(-6 * time.Minute))
	_, err := h.o.JoinSession(ctx, sess.ID, h.client)
	assert.ErrorIs(t, err, apperr.ErrJoinWindowNotYetOpen)

	res, err := h.o.JoinSession(ctx, sess.ID, h.admin)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusScheduled, res.Status, "admin presence does not start the session")

	h.clock.Set(sess.ScheduledAt.Add(-5 * time.Minute))
	res, err = h.o.JoinSession(ctx, sess.ID, h.client)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusInProgress, res.Status)
	assert.NotEmpty(t, res.Meeting.Link)
	h.o.Wait()

	assert.Contains(t, h.audit.recorded(), "admin_join")
	assert.Contains(t, h.publisher.types(), events.SessionJoined)
}

func TestExtendAndEndSession(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	h.clock.Set(sess.ScheduledAt)
	_, err := h.o.JoinSession(ctx, sess.ID, h.therapist)
	require.NoError(t, err)

	h.clock.Set(sess.ScheduledAt.Add(55 * time.Minute))
	for i := 1; i <= 3; i++ {
		res, err := h.o.ExtendSession(ctx, sess.ID, h.therapist, "")
		require.NoError(t, err)
		assert.Equal(t, i, res.Used)
		assert.Equal(t, 3-i, res.Remaining)
	}
	_, err = h.o.ExtendSession(ctx, sess.ID, h.therapist, "")
	assert.ErrorIs(t, err, apperr.ErrExtensionLimitReached)

	_, err = h.o.EndSession(ctx, sess.ID, h.client)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	h.clock.Set(sess.ScheduledAt.Add(85 * time.Minute))
	summary, err := h.o.EndSession(ctx, sess.ID, h.therapist)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, summary.Status)
	assert.Equal(t, 85, summary.ActualDurationMinutes)
	assert.Equal(t, 3, summary.ExtensionsUsed)
	assert.Equal(t, 30, summary.ExtendedMinutes)
	h.o.Wait()

	counters, err := h.stats.Counters(ctx, h.therapist.ID)
	require.NoError(t, err)
	assert.Equal(t, TherapistCounters{SessionsCompleted: 1, MinutesDelivered: 85}, counters)

	kinds := h.notifier.kinds()
	assert.Contains(t, kinds, notify.KindExtension)
	assert.Contains(t, h.audit.recorded(), "extension")
}

func TestCancelSessionReleasesSlot(t *testing.T) {
	h := newHarness(t)
	slot := h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	stranger := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
	_, err := h.o.CancelSession(ctx, sess.ID, stranger, "", "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	cancelled, err := h.o.CancelSession(ctx, sess.ID, h.client, "", "travelling")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCancelled, cancelled.Status)
	assert.Equal(t, sessions.ReasonOther, cancelled.Cancellation.Reason)
	assert.Equal(t, availability.StatusAvailable, h.slotStatus(t, slot.ID))
	h.o.Wait()

	assert.Contains(t, h.audit.recorded(), "cancellation")
	assert.Contains(t, h.notifier.kinds(), notify.KindCancellation)
	counters, _ := h.stats.Counters(ctx, h.therapist.ID)
	assert.Equal(t, 1, counters.SessionsCancelled)

	_, err = h.o.CancelSession(ctx, sess.ID, h.client, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

type flakySlotStore struct {
	*availability.MemoryStore
	mu         sync.Mutex
	releaseErr error
}

func (f *flakySlotStore) Release(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	f.mu.Lock()
	err := f.releaseErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.MemoryStore.Release(ctx, sessionID)
}

func (f *flakySlotStore) failReleases(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErr = err
}

func newFlakyHarness(t *testing.T) (*harness, *flakySlotStore) {
	t.Helper()
	store := &flakySlotStore{MemoryStore: availability.NewMemoryStore()}
	h := newHarness(t, func(d *Deps) {
		d.Slots = availability.NewService(store, d.Sessions, availability.Options{
			Location: d.Policy.Location,
			Notice:   d.Policy.SlotNotice,
			Step:     d.Policy.SlotStep,
			Horizon:  d.Policy.RecurrenceHorizon,
		}, logging.Default())
	})
	h.slots = store.MemoryStore
	return h, store
}

func TestCancelSessionRetriesFailedRelease(t *testing.T) {
	h, store := newFlakyHarness(t)
	slot := h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	store.failReleases(errors.New("connection reset by peer"))
	_, err := h.o.CancelSession(ctx, sess.ID, h.client, "emergency", "")
	require.Error(t, err)

	stored, err := h.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCancelled, stored.Status)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, slot.ID))

	store.failReleases(nil)
	stranger := identity.Actor{ID: uuid.New(), Role: identity.RoleClient}
	_, err = h.o.CancelSession(ctx, sess.ID, stranger, "", "")
	assert.Error(t, err)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, slot.ID), "only a participant may complete the release")

	retried, err := h.o.CancelSession(ctx, sess.ID, h.client, "emergency", "")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCancelled, retried.Status)
	assert.Equal(t, sessions.ReasonEmergency, retried.Cancellation.Reason)
	assert.Equal(t, availability.StatusAvailable, h.slotStatus(t, slot.ID))

	_, err = h.o.CancelSession(ctx, sess.ID, h.client, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	h.o.Wait()

	cancellations := 0
	for _, k := range h.notifier.kinds() {
		if k == notify.KindCancellation {
			cancellations++
		}
	}
	assert.Equal(t, 1, cancellations)
}

func TestSweepReleasesSlotsHeldByRetiredSessions(t *testing.T) {
	h, store := newFlakyHarness(t)
	first := h.slot(t, day(14), hours(10, 0), hours(11, 0))
	second := h.slot(t, day(15), hours(14, 0), hours(15, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	store.failReleases(errors.New("connection reset by peer"))
	moved, err := h.o.RescheduleSession(ctx, sess.ID, h.client, day(15), hours(14, 0))
	require.NoError(t, err)
	assert.Equal(t, second.ID, moved.SlotID)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, first.ID))

	store.failReleases(nil)
	_, err = h.o.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, availability.StatusAvailable, h.slotStatus(t, first.ID))
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, second.ID))

	freed, err := h.o.ReleaseStrandedSlots(ctx)
	require.NoError(t, err)
	assert.Zero(t, freed)
	h.o.Wait()
}

func TestCancelSessionInsideCutoff(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))

	h.clock.Set(sess.ScheduledAt.Add(-29 * time.Hour))
	_, err := h.o.CancelSession(context.Background(), sess.ID, h.client, "illness", "")
	assert.ErrorIs(t, err, apperr.ErrCancellationWindowClosed)
}

func TestRescheduleSessionMovesBooking(t *testing.T) {
	h := newHarness(t)
	first := h.slot(t, day(14), hours(10, 0), hours(11, 0))
	second := h.slot(t, day(15), hours(14, 0), hours(15, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	_, err := h.o.RescheduleSession(ctx, sess.ID, h.client, day(14), hours(10, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.o.RescheduleSession(ctx, sess.ID, h.client, day(16), hours(9, 0))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, first.ID), "failed reschedule keeps the original booking")

	moved, err := h.o.RescheduleSession(ctx, sess.ID, h.client, day(15), hours(14, 0))
	require.NoError(t, err)
	require.NotNil(t, moved.RescheduledFrom)
	assert.Equal(t, sess.ID, *moved.RescheduledFrom)
	assert.Equal(t, second.ID, moved.SlotID)
	assert.Equal(t, sessions.StatusScheduled, moved.Status)

	old, err := h.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusRescheduled, old.Status)
	require.NotNil(t, old.RescheduledTo)
	assert.Equal(t, moved.ID, *old.RescheduledTo)

	assert.Equal(t, availability.StatusAvailable, h.slotStatus(t, first.ID))
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, second.ID))
	h.o.Wait()

	assert.Contains(t, h.notifier.kinds(), notify.KindReschedule)
	assert.Contains(t, h.audit.recorded(), "reschedule")
	assert.Contains(t, h.publisher.types(), events.SessionRescheduled)
}

func TestSweepNoShowsKeepsSlotBooked(t *testing.T) {
	h := newHarness(t)
	slot := h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	h.clock.Set(sess.ScheduledAt.Add(15 * time.Minute))
	n, err := h.o.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "grace period is exclusive")

	h.clock.Set(sess.ScheduledAt.Add(16 * time.Minute))
	n, err = h.o.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.o.Wait()

	stored, err := h.store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusNoShow, stored.Status)
	assert.Equal(t, availability.StatusBooked, h.slotStatus(t, slot.ID))
	assert.Contains(t, h.audit.recorded(), "no_show")
	counters, _ := h.stats.Counters(ctx, h.therapist.ID)
	assert.Equal(t, 1, counters.NoShows)

	n, err = h.o.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetSessionHidesNotesFromClients(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	asClient, err := h.o.GetSession(ctx, sess.ID, h.client)
	require.NoError(t, err)
	assert.Empty(t, asClient.Notes)
	assert.Equal(t, 3, asClient.Extensions.Max)

	asTherapist, err := h.o.GetSession(ctx, sess.ID, h.therapist)
	require.NoError(t, err)
	assert.NotEmpty(t, asTherapist.Notes)

	stranger := identity.Actor{ID: uuid.New(), Role: identity.RoleTherapist}
	_, err = h.o.GetSession(ctx, sess.ID, stranger)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, h.o.Authorize(ctx, sess.ID, stranger), apperr.ErrForbidden)
	assert.NoError(t, h.o.Authorize(ctx, sess.ID, h.admin))
}

func TestUpdateNotes(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(10, 0), hours(11, 0))
	sess := h.book(t, day(14), hours(10, 0))
	ctx := context.Background()

	_, err := h.o.UpdateNotes(ctx, sess.ID, h.client, "please call me back")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.o.UpdateNotes(ctx, sess.ID, h.therapist, " \t ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	updated, err := h.o.UpdateNotes(ctx, sess.ID, h.therapist, "agreed on weekly cadence")
	require.NoError(t, err)
	assert.Equal(t, "agreed on weekly cadence", updated.Notes)

	_, err = h.o.UpdateNotes(ctx, sess.ID, h.admin, "reviewed by clinical lead")
	require.NoError(t, err)

	detail, err := h.o.GetSession(ctx, sess.ID, h.therapist)
	require.NoError(t, err)
	assert.Equal(t, "reviewed by clinical lead", detail.Notes)

	_, err = h.o.UpdateNotes(ctx, uuid.New(), h.therapist, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCalendarManagement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := identity.Actor{ID: uuid.New(), Role: identity.RoleTherapist}

	_, err := h.o.CreateSlots(ctx, other, []availability.CreateSlotInput{{
		TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(9, 0), EndTime: hours(10, 0),
	}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.o.CreateSlots(ctx, h.client, []availability.CreateSlotInput{{
		TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(9, 0), EndTime: hours(10, 0),
	}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	slot := h.slot(t, day(14), hours(9, 0), hours(10, 0))
	assert.Equal(t, h.therapist.ID, slot.TherapistID)

	_, err = h.o.ModifySlot(ctx, other, slot.ID, availability.SlotPatch{Action: availability.ActionBlock})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	blocked, err := h.o.ModifySlot(ctx, h.admin, slot.ID, availability.SlotPatch{Action: availability.ActionBlock, Reason: "conference"})
	require.NoError(t, err)
	assert.Equal(t, availability.StatusBlocked, blocked.Status)

	views, err := h.o.ListSlots(ctx, h.therapist, h.therapist.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].CanBeModified)

	_, err = h.o.ListSlots(ctx, h.client, h.therapist.ID, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, h.o.DeleteSlot(ctx, h.therapist, slot.ID))
	h.o.Wait()
	assert.ElementsMatch(t, []string{"slot_blocked", "slot_deleted"}, h.audit.recorded())
}

func TestAvailabilityExcludesBookedTime(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(9, 0), hours(10, 0))
	h.slot(t, day(14), hours(10, 0), hours(12, 0))
	ctx := context.Background()

	_, err := h.o.BookSession(ctx, h.client, BookingRequest{TherapistID: h.therapist.ID, Date: day(14), StartTime: hours(9, 0)})
	require.NoError(t, err)

	starts, err := h.o.Availability(ctx, h.therapist.ID, day(14), 60)
	require.NoError(t, err)
	var clock []string
	for _, s := range starts {
		clock = append(clock, s.Format("15:04"))
	}
	assert.Equal(t, []string{"10:00", "10:30", "11:00"}, clock)

	_, err = h.o.Availability(ctx, uuid.Nil, day(14), 60)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEveryAdvertisedStartBooks(t *testing.T) {
	catalog := newHarness(t)
	catalog.slot(t, day(14), hours(10, 0), hours(12, 0))
	advertised, err := catalog.o.Availability(context.Background(), catalog.therapist.ID, day(14), 60)
	require.NoError(t, err)
	require.Len(t, advertised, 3)

	for _, start := range advertised {
		t.Run(start.Format("15:04"), func(t *testing.T) {
			h := newHarness(t)
			slot := h.slot(t, day(14), hours(10, 0), hours(12, 0))
			ctx := context.Background()
			offset := start.Sub(day(14))

			sess, err := h.o.BookSession(ctx, h.client, BookingRequest{
				TherapistID: h.therapist.ID, Date: day(14), StartTime: offset, DurationMinutes: 60,
			})
			require.NoError(t, err)
			assert.Equal(t, slot.ID, sess.SlotID)
			assert.True(t, sess.ScheduledAt.Equal(start))

			booked, err := h.slots.Get(ctx, slot.ID)
			require.NoError(t, err)
			assert.Equal(t, availability.StatusBooked, booked.Status)
			assert.True(t, booked.StartsAt.Equal(start))
			assert.Equal(t, 60, booked.DurationMinutes)

			// The uncovered remainder stays bookable.
			remaining, err := h.o.Availability(ctx, h.therapist.ID, day(14), 30)
			require.NoError(t, err)
			assert.Len(t, remaining, 2)
			taken := timewindow.Interval{Start: start, End: start.Add(time.Hour)}
			for _, r := range remaining {
				assert.False(t, taken.Overlaps(timewindow.Interval{Start: r, End: r.Add(30 * time.Minute)}), "offered %s inside the booking", r.Format("15:04"))
			}

			_, err = h.o.CancelSession(ctx, sess.ID, h.client, "", "")
			require.NoError(t, err)
			h.o.Wait()
			assert.Equal(t, availability.StatusAvailable, h.slotStatus(t, slot.ID))
		})
	}
}

func TestListSessionsFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	h.slot(t, day(14), hours(9, 0), hours(10, 0))
	h.slot(t, day(15), hours(9, 0), hours(10, 0))
	ctx := context.Background()

	keep := h.book(t, day(14), hours(9, 0))
	drop := h.book(t, day(15), hours(9, 0))
	_, err := h.o.CancelSession(ctx, drop.ID, h.client, "", "")
	require.NoError(t, err)

	list, err := h.o.ListSessions(ctx, h.therapist, h.therapist.ID, time.Time{}, time.Time{}, []sessions.Status{sessions.StatusScheduled})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)

	_, err = h.o.ListSessions(ctx, h.therapist, h.therapist.ID, time.Time{}, time.Time{}, []sessions.Status{"lost"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	h.o.Wait()
}
