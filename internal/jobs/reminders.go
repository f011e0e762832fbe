package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/notify"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// ReminderJob is the registered name of the reminder dispatch.
const ReminderJob = "session_reminders"

// ReminderSource lists upcoming sessions and records which reminders went out.
type ReminderSource interface {
	ReminderCandidates(ctx context.Context, from, to time.Time) ([]sessions.Session, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, kind sessions.ReminderKind) (bool, error)
}

// Notifier delivers a reminder notice.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) error
}

type reminderWindow struct {
	kind     sessions.ReminderKind
	notice   notify.Kind
	from, to time.Duration
	sent     func(sessions.Session) bool
}

// Windows are relative to now. The day window is open at its lower bound,
// which the hour window covers.
var reminderWindows = []reminderWindow{
	{kind: sessions.ReminderHour, notice: notify.KindReminderHour, from: 0, to: time.Hour, sent: func(s sessions.Session) bool { return s.Reminders.Hour }},
	{kind: sessions.ReminderDay, notice: notify.KindReminderDay, from: time.Hour, to: 24 * time.Hour, sent: func(s sessions.Session) bool { return s.Reminders.Day }},
}

// ReminderDispatcher sends the 24 hour and 1 hour reminders. Each reminder is
// claimed before it is sent, so delivery is at most once.
type ReminderDispatcher struct {
	source   ReminderSource
	notifier Notifier
	clock    timewindow.Clock
	logger   *logging.Logger
}

func NewReminderDispatcher(source ReminderSource, notifier Notifier, clock timewindow.Clock, logger *logging.Logger) *ReminderDispatcher {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReminderDispatcher{source: source, notifier: notifier, clock: clock, logger: logger.Component("reminders")}
}

// Run sends every due reminder and returns how many went out.
func (d *ReminderDispatcher) Run(ctx context.Context) (int, error) {
	now := d.clock.Now()
	sent := 0
	var errs []error
	for _, w := range reminderWindows {
		lower, upper := now.Add(w.from), now.Add(w.to)
		candidates, err := d.source.ReminderCandidates(ctx, lower, upper)
		if err != nil {
			return sent, err
		}
		for _, sess := range candidates {
			if w.sent(sess) || (w.from > 0 && !sess.ScheduledAt.After(lower)) {
				continue
			}
			claimed, err := d.source.MarkReminderSent(ctx, sess.ID, w.kind)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !claimed {
				continue
			}
			if err := d.notifier.Notify(ctx, notify.Notice{Kind: w.notice, Session: sess}); err != nil {
				d.logger.Warn("reminder delivery failed", "session_id", sess.ID, "kind", string(w.kind), "error", err)
				errs = append(errs, err)
				continue
			}
			sent++
		}
	}
	if sent > 0 {
		d.logger.Info("reminders sent", "count", sent)
	}
	return sent, errors.Join(errs...)
}

// Job returns the dispatcher as a runner job on schedule.
func (d *ReminderDispatcher) Job(schedule string) Job {
	return Job{Name: ReminderJob, Schedule: schedule, Run: d.Run}
}
