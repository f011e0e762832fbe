// Package jobs runs the periodic no-show sweep and reminder dispatch under a
// cross-replica lock.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wolfman30/teletherapy-scheduler/internal/observability/metrics"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Job is one scheduled unit of work. Run reports how many sessions it touched.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// Runner schedules jobs with cron expressions. A tick runs only on the
// replica that wins the job's lock; overlapping ticks on one replica are
// skipped.
type Runner struct {
	cron    *cron.Cron
	locker  Locker
	lockTTL time.Duration
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRunner(locker Locker, lockTTL time.Duration, m *metrics.SchedulingMetrics, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	logger = logger.Component("jobs")
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Runner{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		locker:  locker,
		lockTTL: lockTTL,
		metrics: m,
		logger:  logger,
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds job under its schedule, which accepts standard five-field
// cron specs and descriptors such as "@every 1m".
func (r *Runner) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("jobs: job name and func are required")
	}
	if _, dup := r.jobs[job.Name]; dup {
		return fmt.Errorf("jobs: %s already registered", job.Name)
	}
	if _, err := r.cron.AddFunc(job.Schedule, func() { _ = r.RunOnce(r.ctx, job.Name) }); err != nil {
		return fmt.Errorf("jobs: schedule %s %q: %w", job.Name, job.Schedule, err)
	}
	r.jobs[job.Name] = job
	r.logger.Info("job registered", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Start begins scheduling in the background.
func (r *Runner) Start() { r.cron.Start() }

// Stop halts scheduling and waits for running ticks, up to ctx.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.logger.Warn("jobs still running at shutdown")
	}
	r.cancel()
}

// RunOnce executes one tick of the named job now, honoring the lock.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("jobs: unknown job %s", name)
	}
	ctx, cancel := context.WithTimeout(ctx, r.lockTTL)
	defer cancel()

	release, acquired, err := r.locker.TryLock(ctx, name, r.lockTTL)
	if err != nil {
		r.metrics.ObserveJob(name, "error", 0)
		r.logger.Error("job lock failed", "job", name, "error", err)
		return err
	}
	if !acquired {
		r.metrics.ObserveJob(name, "skipped", 0)
		r.logger.Debug("job held by another replica", "job", name)
		return nil
	}
	defer release(context.WithoutCancel(ctx))

	started := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		r.metrics.ObserveJob(name, "error", n)
		r.logger.Error("job failed", "job", name, "affected", n, "error", err)
		return err
	}
	r.metrics.ObserveJob(name, "ok", n)
	r.logger.Debug("job completed", "job", name, "affected", n, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// cronLogger routes cron's own diagnostics to slog.
type cronLogger struct{ logger *logging.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
