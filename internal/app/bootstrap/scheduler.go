package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/compliance"
	appconfig "github.com/wolfman30/teletherapy-scheduler/internal/config"
	"github.com/wolfman30/teletherapy-scheduler/internal/events"
	"github.com/wolfman30/teletherapy-scheduler/internal/http/handlers"
	"github.com/wolfman30/teletherapy-scheduler/internal/jobs"
	"github.com/wolfman30/teletherapy-scheduler/internal/notify"
	"github.com/wolfman30/teletherapy-scheduler/internal/observability/metrics"
	"github.com/wolfman30/teletherapy-scheduler/internal/scheduling"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// RuntimeOptions carries collaborators the caller builds itself.
type RuntimeOptions struct {
	Logger     *logging.Logger
	Registerer prometheus.Registerer
	Clock      timewindow.Clock
	// SES is used when EMAIL_PROVIDER=ses.
	SES notify.SESAPI
	// Pool and Redis override the connections built from config.
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Runtime is the wired scheduling stack shared by the API and its jobs.
type Runtime struct {
	Scheduler *scheduling.Orchestrator
	Sessions  *sessions.Service
	Slots     *availability.Service
	Bus       *events.Bus
	Streamer  *events.Streamer
	Jobs      *jobs.Runner
	// Deliverer is set only for postgres storage, where events flow through
	// the outbox before reaching the bus.
	Deliverer *events.Deliverer
	Metrics   *metrics.SchedulingMetrics
	Checks    map[string]handlers.Check

	pool      *pgxpool.Pool
	redis     *redis.Client
	ownsPool  bool
	ownsRedis bool
}

// BuildRuntime wires stores, collaborators, the orchestrator and the job
// runner for cfg.Storage ("memory" or "postgres").
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	policy := cfg.Policy()

	rt := &Runtime{
		Metrics: metrics.NewSchedulingMetrics(opts.Registerer),
		Checks:  map[string]handlers.Check{},
		Bus:     events.NewBus(32, logger.Component("events")),
	}

	switch cfg.Storage {
	case "postgres":
		rt.pool = opts.Pool
		if rt.pool == nil {
			pool, err := BuildPostgresPool(ctx, cfg)
			if err != nil {
				return nil, err
			}
			rt.pool, rt.ownsPool = pool, true
		}
		rt.Checks["postgres"] = func(ctx context.Context) error { return rt.pool.Ping(ctx) }
	case "", "memory":
	default:
		return nil, fmt.Errorf("bootstrap: unknown storage %q", cfg.Storage)
	}

	rt.redis = opts.Redis
	if rt.redis == nil {
		rt.redis = BuildRedisClient(ctx, cfg, logger, true)
		rt.ownsRedis = rt.redis != nil
	}
	if rt.redis != nil {
		rt.Checks["redis"] = func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }
	}

	rules := sessions.Rules{
		CancelCutoff:     policy.CancelCutoff,
		NoShowGrace:      policy.NoShowGrace,
		EarlyJoin:        policy.EarlyJoin,
		LateJoin:         policy.LateJoin,
		ExtensionMinutes: policy.ExtensionMinutes,
		MaxExtensions:    policy.MaxExtensions,
	}
	meetings := sessions.NewLinkProvider(cfg.MeetingBaseURL)
	slotOpts := availability.Options{
		Location: policy.Location,
		Notice:   policy.SlotNotice,
		Step:     policy.SlotStep,
		Horizon:  policy.RecurrenceHorizon,
	}

	var (
		publisher scheduling.Publisher = rt.Bus
		audit     scheduling.AuditLogger
		directory notify.Directory
	)
	if rt.pool != nil {
		rt.Sessions = sessions.NewService(sessions.NewPostgresStore(rt.pool), rules, meetings, logger.Component("sessions"))
		rt.Slots = availability.NewService(availability.NewPostgresStore(rt.pool), rt.Sessions, slotOpts, logger.Component("availability"))

		outbox := events.NewOutboxStore(rt.pool)
		publisher = outbox
		rt.Deliverer = events.NewDeliverer(outbox, rt.Bus, logger.Component("outbox"))
		audit = compliance.NewAuditService(stdlib.OpenDBFromPool(rt.pool))
		directory = notify.NewPostgresDirectory(rt.pool)
	} else {
		rt.Sessions = sessions.NewService(sessions.NewMemoryStore(), rules, meetings, logger.Component("sessions"))
		rt.Slots = availability.NewService(availability.NewMemoryStore(), rt.Sessions, slotOpts, logger.Component("availability"))
		directory = notify.NewStaticDirectory()
	}

	var stats scheduling.TherapistStats
	if rt.redis != nil {
		stats = scheduling.NewRedisTherapistStats(rt.redis)
	}
	notifier := notify.NewService(BuildEmailSender(cfg, opts.SES, logger), directory, logger.Component("notify"))

	rt.Scheduler = scheduling.New(scheduling.Deps{
		Slots:     rt.Slots,
		Sessions:  rt.Sessions,
		Clock:     clock,
		Policy:    policy,
		Notifier:  notifier,
		Publisher: publisher,
		Audit:     audit,
		Stats:     stats,
		Metrics:   rt.Metrics,
		Logger:    logger.Component("scheduling"),
	})
	rt.Streamer = events.NewStreamer(rt.Bus, cfg.CORSAllowedOrigins, logger.Component("websocket"))

	var locker jobs.Locker = jobs.NewLocalLocker()
	if rt.redis != nil {
		locker = jobs.NewRedisLocker(rt.redis, logger.Component("jobs"))
	}
	rt.Jobs = jobs.NewRunner(locker, cfg.JobLockTTL, rt.Metrics, logger)
	jobLogger := logger.Component("jobs")
	if err := rt.Jobs.Register(jobs.NewNoShowSweeper(rt.Scheduler, jobLogger).Job(cfg.SweepSchedule)); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.Jobs.Register(jobs.NewReminderDispatcher(rt.Sessions, notifier, clock, jobLogger).Job(cfg.ReminderSchedule)); err != nil {
		rt.Close()
		return nil, err
	}

	logger.Info("scheduler runtime ready",
		"storage", storageName(cfg.Storage),
		"redis", rt.redis != nil,
		"email_provider", cfg.EmailProvider,
		"timezone", policy.Location.String(),
	)
	return rt, nil
}

// Close releases the connections the runtime opened itself.
func (rt *Runtime) Close() {
	if rt.ownsRedis && rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.ownsPool && rt.pool != nil {
		rt.pool.Close()
	}
}

func storageName(s string) string {
	if s == "" {
		return "memory"
	}
	return s
}
