package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Schedules: dirty-set drain every five minutes, full reconciliation
// daily at 00:02 UTC, per-day averages hourly at minute 0.
const (
	scheduleDirty  = "*/5 * * * *"
	scheduleFull   = "2 0 * * *"
	schedulePerDay = "0 * * * *"
)

// Scheduler owns the reconciliation cron jobs. Every job catches its
// own errors; jobs never cancel each other.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

// NewScheduler registers the three jobs against the reconciler.
func NewScheduler(ctx context.Context, r *Reconciler, log *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log.WithField("component", "stats-cron"),
	}

	jobs := []struct {
		spec string
		name string
		fn   func(ctx context.Context) error
	}{
		{scheduleDirty, "reconcile-dirty", r.ReconcileDirty},
		{scheduleFull, "reconcile-all", r.ReconcileAll},
		{schedulePerDay, "per-day-averages", func(ctx context.Context) error {
			return r.UpdatePerDayAverages(ctx, true)
		}},
	}

	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() {
			if err := job.fn(ctx); err != nil {
				s.log.WithError(err).WithField("job", job.name).Error("cron job failed")
				sentry.CaptureException(fmt.Errorf("cron job %s: %w", job.name, err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}

	return s, nil
}

// Start begins running the schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("reconciliation schedules started")
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
