/**
 * @description
 * Scheduled job implementations: the workflow resume sweep, the campaign
 * lifecycle sweep, and nightly points expiry. Each sweep takes a
 * distributed lock first so only one instance runs it per interval.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/verdantnursery/marketing-service/internal/config"
)

const (
	lockResumeSweep   = "workflow_resume"
	lockCampaignSweep = "campaign_lifecycle"
	lockPointsExpiry  = "points_expiry"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	engine    *WorkflowEngine
	campaigns *CampaignService
	loyalty   *LoyaltyService
	lock      *RedisSweepLock
	logger    *slog.Logger
	config    config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(engine *WorkflowEngine, campaigns *CampaignService, loyalty *LoyaltyService, lock *RedisSweepLock, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		engine:    engine,
		campaigns: campaigns,
		loyalty:   loyalty,
		lock:      lock,
		logger:    logger,
		config:    cfg,
	}
}

func (j *Jobs) lockTTL() time.Duration {
	return time.Duration(j.config.SweepLockTTLSeconds) * time.Second
}

// ResumeWaitingExecutions re-enqueues WAITING workflow executions whose
// resume time has passed.
func (j *Jobs) ResumeWaitingExecutions() {
	ctx := context.Background()

	held, err := j.lock.TryLock(ctx, lockResumeSweep, j.lockTTL())
	if err != nil {
		j.logger.Error("resume sweep lock failed", "error", err)
		return
	}
	if !held {
		return
	}
	defer j.lock.Unlock(ctx, lockResumeSweep)

	claimed, err := j.engine.ResumeWaitingExecutions(ctx)
	if err != nil {
		j.logger.Error("resume sweep failed", "error", err)
		return
	}
	if claimed > 0 {
		j.logger.Info("resume sweep finished", "resumed", claimed)
	}
}

// ProcessScheduledCampaigns promotes due SCHEDULED campaigns and completes
// ended ACTIVE ones.
func (j *Jobs) ProcessScheduledCampaigns() {
	ctx := context.Background()

	held, err := j.lock.TryLock(ctx, lockCampaignSweep, j.lockTTL())
	if err != nil {
		j.logger.Error("campaign sweep lock failed", "error", err)
		return
	}
	if !held {
		return
	}
	defer j.lock.Unlock(ctx, lockCampaignSweep)

	started, completed, err := j.campaigns.ProcessScheduledCampaigns(ctx)
	if err != nil {
		j.logger.Error("campaign sweep failed", "error", err)
		return
	}
	if started > 0 || completed > 0 {
		j.logger.Info("campaign sweep finished", "started", started, "completed", completed)
	}
}

// ExpireLoyaltyPoints is the nightly job that writes EXPIRED offsets for
// earned points past their expiry window.
func (j *Jobs) ExpireLoyaltyPoints() {
	j.logger.Info("starting points expiry job")
	ctx := context.Background()

	held, err := j.lock.TryLock(ctx, lockPointsExpiry, j.lockTTL())
	if err != nil {
		j.logger.Error("points expiry lock failed", "error", err)
		return
	}
	if !held {
		return
	}
	defer j.lock.Unlock(ctx, lockPointsExpiry)

	expired, err := j.loyalty.ExpirePoints(ctx)
	if err != nil {
		j.logger.Error("points expiry job failed", "error", err)
		return
	}
	j.logger.Info("points expiry job finished", "transactions_expired", expired)
}
