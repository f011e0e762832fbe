package jobs

import (
	"context"

	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// NoShowJob is the registered name of the no-show sweep.
const NoShowJob = "no_show_sweep"

// Sweeper flags sessions nobody joined within the grace period.
type Sweeper interface {
	SweepNoShows(ctx context.Context) (int, error)
}

// NoShowSweeper adapts a Sweeper to the job runner.
type NoShowSweeper struct {
	sweeper Sweeper
	logger  *logging.Logger
}

func NewNoShowSweeper(sweeper Sweeper, logger *logging.Logger) *NoShowSweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &NoShowSweeper{sweeper: sweeper, logger: logger.Component("no_show_sweeper")}
}

// Run performs one sweep.
func (s *NoShowSweeper) Run(ctx context.Context) (int, error) {
	n, err := s.sweeper.SweepNoShows(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("sessions marked no-show", "count", n)
	}
	return n, nil
}

// Job returns the sweep as a runner job on schedule.
func (s *NoShowSweeper) Job(schedule string) Job {
	return Job{Name: NoShowJob, Schedule: schedule, Run: s.Run}
}
