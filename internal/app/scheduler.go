package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig holds the cron specs for the maintenance jobs.
type ScheduleConfig struct {
	ExpirySweep   string
	ExpiryWarning string
	Location      *time.Location
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule ScheduleConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule ScheduleConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	loc := schedule.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler. An invalid spec is
// returned before anything runs.
func (s *Scheduler) Start() error {
	entries := []struct {
		name string
		spec string
		run  func()
	}{
		{name: "license expiry sweep", spec: s.schedule.ExpirySweep, run: s.jobs.ExpireLapsedLicenses},
		{name: "expiry warning", spec: s.schedule.ExpiryWarning, run: s.jobs.SendExpiryWarnings},
	}

	for _, entry := range entries {
		if _, err := s.cron.AddFunc(entry.spec, entry.run); err != nil {
			s.logger.Error("failed to schedule job", "job", entry.name, "schedule", entry.spec, "error", err)
			return err
		}
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.spec)
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
