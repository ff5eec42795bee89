/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/verdantnursery/marketing-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.ResumeSweepSchedule, s.jobs.ResumeWaitingExecutions); err != nil {
		s.logger.Error("failed to schedule workflow resume sweep", "error", err)
	} else {
		s.logger.Info("scheduled workflow resume sweep", "schedule", s.config.ResumeSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.CampaignSweepSchedule, s.jobs.ProcessScheduledCampaigns); err != nil {
		s.logger.Error("failed to schedule campaign sweep", "error", err)
	} else {
		s.logger.Info("scheduled campaign sweep", "schedule", s.config.CampaignSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.PointsExpirySchedule, s.jobs.ExpireLoyaltyPoints); err != nil {
		s.logger.Error("failed to schedule points expiry job", "error", err)
	} else {
		s.logger.Info("scheduled points expiry job", "schedule", s.config.PointsExpirySchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
