/**
 * @description
 * This file defines the repository interfaces that specify the contract for
 * all data access required by the loyalty ledger, the workflow engine, and
 * the campaign manager. Keeping the business logic behind these interfaces
 * decouples it from PostgreSQL and lets the service tests run against
 * in-memory fakes.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrRewardNotFound     = errors.New("reward not found")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrRewardSoldOut      = errors.New("reward sold out")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionExists    = errors.New("execution already in flight")
	ErrContactNotFound    = errors.New("contact not found")
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrCodeTaken          = errors.New("discount code already in use")
)

// LoyaltyRepository is the data access contract for the points ledger.
//
// AppendTransaction is the single primitive every balance mutation flows
// through: inside one database transaction it inserts the ledger row,
// adjusts the account balance by the signed delta (failing with
// ErrInsufficientPoints if the balance would go negative), adds to lifetime
// points when the delta is positive, and stamps last activity. It returns
// the account as updated.
type LoyaltyRepository interface {
	FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByCustomerID(ctx context.Context, customerID string) (*domain.Account, error)
	FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	SetAccountCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error
	SetAccountTier(ctx context.Context, accountID uuid.UUID, tierID uuid.UUID) error
	IncrementReferralCount(ctx context.Context, accountID uuid.UUID) error
	AddLifetimeSpend(ctx context.Context, accountID uuid.UUID, cents int64) error

	AppendTransaction(ctx context.Context, txn *domain.Transaction) (*domain.Account, error)
	FindTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error)
	// FindExpirableTransactions returns positive, non-redemption entries whose
	// expiry has passed and which no EXPIRED offset references yet.
	FindExpirableTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error)

	ListTiers(ctx context.Context) ([]domain.Tier, error)
	FindTierByID(ctx context.Context, id uuid.UUID) (*domain.Tier, error)
	CountTiers(ctx context.Context) (int, error)
	CreateTier(ctx context.Context, tier *domain.Tier) error

	FindRewardByID(ctx context.Context, id uuid.UUID) (*domain.Reward, error)
	ListActiveRewards(ctx context.Context) ([]domain.Reward, error)
	CountRewards(ctx context.Context) (int, error)
	CreateReward(ctx context.Context, reward *domain.Reward) error
	// RedeemRewardAtomic performs the whole redemption as one unit of work:
	// it locks the reward row, re-checks the usage cap, appends the negative
	// REDEMPTION ledger entry (which also guards the balance), inserts the
	// redemption row, and increments the reward's used count.
	RedeemRewardAtomic(ctx context.Context, redemption *domain.Redemption, txn *domain.Transaction) error
	FindRedemptionsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Redemption, error)
}

// WorkflowRepository is the data access contract for the automation engine.
type WorkflowRepository interface {
	ListActiveWorkflowsByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Workflow, error)
	FindWorkflowWithSteps(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error

	// CreateExecution inserts a new execution; it fails with
	// ErrExecutionExists when a non-terminal execution already exists for
	// the same (workflow, email) pair. The check and insert are race-safe
	// (a partial unique index on the Postgres side).
	CreateExecution(ctx context.Context, exec *domain.Execution) error
	FindExecutionByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	HasOpenExecution(ctx context.Context, workflowID uuid.UUID, email string) (bool, error)
	MarkExecutionRunning(ctx context.Context, id uuid.UUID) error
	// SaveExecutionProgress persists the advanced step pointer and merged
	// data bag after each successful step, clearing any served resume time.
	SaveExecutionProgress(ctx context.Context, id uuid.UUID, currentStep int, data map[string]any) error
	MarkExecutionWaiting(ctx context.Context, id uuid.UUID, resumeAt time.Time, data map[string]any) error
	MarkExecutionCompleted(ctx context.Context, id uuid.UUID, data map[string]any) error
	MarkExecutionFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	FindDueExecutions(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error)
	// ClaimDueExecution conditionally flips a due WAITING execution back to
	// PENDING and reports whether this caller won the claim. Concurrent
	// sweepers therefore never double-process the same execution.
	ClaimDueExecution(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	CreateScheduledPost(ctx context.Context, post *domain.ScheduledPost) error
}

// ContactRepository is shared by the workflow engine (contact-mutating
// steps) and the campaign manager (audience resolution).
type ContactRepository interface {
	FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error)
	UpsertContact(ctx context.Context, contact *domain.Contact) error
	UpdateContactFields(ctx context.Context, email string, updates map[string]any) error
	// AddContactTag appends the tag only if absent; adding an existing tag
	// is a no-op, not an error.
	AddContactTag(ctx context.Context, email string, tag string) error
	FindContactsByAudience(ctx context.Context, filter domain.AudienceFilter, limit int) ([]domain.Contact, error)
}

// CampaignRepository is the data access contract for the campaign manager.
type CampaignRepository interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	FindCampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	FindCampaignByCode(ctx context.Context, code string) (*domain.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	IncrementCampaignUsage(ctx context.Context, id uuid.UUID) (int, error)
	FindScheduledCampaignsDue(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	FindActiveCampaignsEnded(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	// UpsertDailyAnalytics additively folds the delta into the (campaign,
	// day) rollup row, creating it on first touch.
	UpsertDailyAnalytics(ctx context.Context, campaignID uuid.UUID, day time.Time, delta domain.AnalyticsDelta) error
	FindAnalytics(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]domain.CampaignAnalytics, error)
}
