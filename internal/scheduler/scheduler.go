// Package scheduler periodically forces a dataset refresh.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Refresher rebuilds the plant dataset with fresh weather.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler runs Refresh every interval. A zero interval disables it.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. timeout bounds each refresh run.
func New(r Refresher, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: r,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the refresh job. The first run happens one interval after
// Start; overlapping runs are skipped.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("dataset refresh schedule disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("dataset refresh scheduled", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info("scheduled dataset refresh starting")
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Error("scheduled dataset refresh failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled dataset refresh complete", zap.Duration("duration", time.Since(start)))
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
