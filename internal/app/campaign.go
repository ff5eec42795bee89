/**
 * @description
 * This file contains the campaign manager: lifecycle transitions for
 * promotional campaigns, audience fan-out at launch, checkout-time discount
 * code validation, conversion tracking into daily analytics rollups, and
 * the periodic sweep that promotes scheduled campaigns and completes
 * expired ones.
 *
 * Validation failures surface as displayable reason strings on the
 * ValidationResult, not as errors; the error return is reserved for
 * datastore faults.
 *
 * @dependencies
 * - internal/config, internal/domain, internal/store.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/config"
	"github.com/verdantnursery/marketing-service/internal/domain"
	"github.com/verdantnursery/marketing-service/internal/store"
)

var (
	// ErrCampaignNotActivatable is returned when activation is attempted
	// from a status other than DRAFT or PAUSED.
	ErrCampaignNotActivatable = errors.New("campaign can only be activated from DRAFT or PAUSED")
	// ErrDiscountConflict is returned when a campaign's discount is not
	// exactly one of percent or fixed amount.
	ErrDiscountConflict = errors.New("campaign discount must be a percent or a fixed amount, not both")
)

// TriggerHandler is the slice of the workflow engine the campaign manager
// uses to fan out launch notifications.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, event domain.TriggerEvent) ([]uuid.UUID, error)
}

// ValidationResult is the outcome of a discount code check at checkout.
// Error is user-facing copy; checkout surfaces it directly.
type ValidationResult struct {
	Valid      bool             `json:"valid"`
	Error      string           `json:"error,omitempty"`
	Discount   *domain.Discount `json:"discount,omitempty"`
	CampaignID uuid.UUID        `json:"campaign_id,omitempty"`
}

// CampaignService manages promotional campaigns.
type CampaignService struct {
	repo     store.CampaignRepository
	contacts store.ContactRepository
	posts    store.WorkflowRepository
	triggers TriggerHandler
	cfg      config.Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewCampaignService creates a new campaign service instance.
func NewCampaignService(repo store.CampaignRepository, contacts store.ContactRepository, posts store.WorkflowRepository, triggers TriggerHandler, cfg config.Config, logger *slog.Logger) *CampaignService {
	return &CampaignService{
		repo:     repo,
		contacts: contacts,
		posts:    posts,
		triggers: triggers,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateCampaign validates the campaign and persists it as DRAFT. Discount
// code uniqueness is checked up front so the caller gets a clean conflict
// error instead of a storage-level one.
func (s *CampaignService) CreateCampaign(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("campaign name is required")
	}
	if c.DiscountPct != nil && c.DiscountCents != nil {
		return nil, ErrDiscountConflict
	}
	if c.DiscountCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*c.DiscountCode))
		if code == "" {
			return nil, fmt.Errorf("discount code cannot be blank")
		}
		c.DiscountCode = &code
		if _, err := s.repo.FindCampaignByCode(ctx, code); err == nil {
			return nil, store.ErrCodeTaken
		} else if !errors.Is(err, store.ErrCampaignNotFound) {
			return nil, fmt.Errorf("failed to check discount code: %w", err)
		}
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = domain.CampaignDraft
	c.UsedCount = 0
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name, "type", c.Type)
	return c, nil
}

// ActivateCampaign moves a DRAFT or PAUSED campaign forward. A campaign
// whose start has arrived goes straight to ACTIVE and launches
// synchronously; a future-dated one parks in SCHEDULED for the sweep.
func (s *CampaignService) ActivateCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.repo.FindCampaignByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignPaused {
		return nil, fmt.Errorf("%w: status is %s", ErrCampaignNotActivatable, c.Status)
	}

	if s.now().Before(c.StartAt) {
		if err := s.repo.UpdateCampaignStatus(ctx, id, domain.CampaignScheduled); err != nil {
			return nil, err
		}
		c.Status = domain.CampaignScheduled
		s.logger.Info("campaign scheduled", "campaign_id", id, "start_at", c.StartAt)
		return c, nil
	}

	if err := s.repo.UpdateCampaignStatus(ctx, id, domain.CampaignActive); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignActive
	if err := s.LaunchCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("campaign %s activated but launch failed: %w", id, err)
	}
	return c, nil
}

// PauseCampaign suspends an ACTIVE campaign. Its discount code stops
// validating until reactivation.
func (s *CampaignService) PauseCampaign(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.FindCampaignByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive {
		return fmt.Errorf("only ACTIVE campaigns can be paused, status is %s", c.Status)
	}
	return s.repo.UpdateCampaignStatus(ctx, id, domain.CampaignPaused)
}

// LaunchCampaign fans the campaign out to its audience. Email-channel
// contacts each get a CUSTOM_EVENT trigger carrying the campaign metadata;
// the social channel schedules one Instagram and one Facebook post for
// immediate publication. The audience is capped at a fixed batch size to
// bound the fan-out.
func (s *CampaignService) LaunchCampaign(ctx context.Context, c *domain.Campaign) error {
	audience, err := s.contacts.FindContactsByAudience(ctx, c.Audience, s.cfg.AudienceBatchSize)
	if err != nil {
		return fmt.Errorf("failed to resolve campaign audience: %w", err)
	}

	var emailsSent int64
	if c.HasChannel("email") {
		for _, contact := range audience {
			event := domain.TriggerEvent{
				Type:  domain.TriggerCustomEvent,
				Email: contact.Email,
				Data: map[string]any{
					"event":         "campaign_launch",
					"campaign_id":   c.ID.String(),
					"campaign_name": c.Name,
					"campaign_type": string(c.Type),
				},
			}
			if c.DiscountCode != nil {
				event.Data["discount_code"] = *c.DiscountCode
			}
			if c.DiscountPct != nil {
				event.Data["discount_pct"] = *c.DiscountPct
			}
			if c.DiscountCents != nil {
				event.Data["discount_cents"] = *c.DiscountCents
			}
			if _, err := s.triggers.HandleTrigger(ctx, event); err != nil {
				s.logger.Error("campaign trigger failed", "campaign_id", c.ID,
					"email", contact.Email, "error", err)
				continue
			}
			emailsSent++
		}
	}

	if c.HasChannel("social") {
		content := s.socialCopy(c)
		for _, platform := range []string{"instagram", "facebook"} {
			post := &domain.ScheduledPost{
				ID:          uuid.New(),
				Platform:    platform,
				Content:     content,
				Hashtags:    brandedHashtags,
				ScheduledAt: s.now(),
				Status:      "scheduled",
			}
			if err := s.posts.CreateScheduledPost(ctx, post); err != nil {
				s.logger.Error("campaign social post failed", "campaign_id", c.ID,
					"platform", platform, "error", err)
			}
		}
	}

	if err := s.repo.UpsertDailyAnalytics(ctx, c.ID, s.now(), domain.AnalyticsDelta{EmailsSent: emailsSent}); err != nil {
		return fmt.Errorf("failed to record launch analytics: %w", err)
	}
	s.logger.Info("campaign launched", "campaign_id", c.ID, "audience", len(audience),
		"emails_sent", emailsSent)
	return nil
}

// ValidateDiscountCode is the single source of truth for checkout-time
// discount validation. Checks run in a fixed order and short-circuit on
// the first violation: existence, ACTIVE status, date window, usage cap,
// minimum order value.
func (s *CampaignService) ValidateDiscountCode(ctx context.Context, code string, orderCents int64) (ValidationResult, error) {
	c, err := s.repo.FindCampaignByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return ValidationResult{Error: "Invalid discount code"}, nil
		}
		return ValidationResult{}, fmt.Errorf("failed to look up discount code: %w", err)
	}

	if c.Status != domain.CampaignActive {
		return ValidationResult{Error: "This discount code is not active"}, nil
	}

	now := s.now()
	if now.Before(c.StartAt) || now.After(c.EndAt) {
		return ValidationResult{Error: "This discount code has expired"}, nil
	}

	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return ValidationResult{Error: "This discount code has reached its usage limit"}, nil
	}

	if c.MinOrderCents != nil && orderCents < *c.MinOrderCents {
		return ValidationResult{
			Error: fmt.Sprintf("This code requires a minimum order of $%.2f", float64(*c.MinOrderCents)/100),
		}, nil
	}

	discount := &domain.Discount{}
	switch {
	case c.DiscountPct != nil:
		discount.Type = "percent"
		discount.Value = int64(*c.DiscountPct)
	case c.DiscountCents != nil:
		discount.Type = "fixed"
		discount.Value = *c.DiscountCents
	}

	return ValidationResult{Valid: true, Discount: discount, CampaignID: c.ID}, nil
}

// TrackConversion records a completed checkout that used the code. Usage is
// bumped, today's analytics row absorbs the conversion and revenue, and the
// campaign auto-completes once its usage cap is reached.
func (s *CampaignService) TrackConversion(ctx context.Context, code string, orderCents int64) error {
	result, err := s.ValidateDiscountCode(ctx, code, orderCents)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("conversion rejected: %s", result.Error)
	}

	used, err := s.repo.IncrementCampaignUsage(ctx, result.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to increment campaign usage: %w", err)
	}

	delta := domain.AnalyticsDelta{Conversions: 1, RevenueCents: orderCents}
	if err := s.repo.UpsertDailyAnalytics(ctx, result.CampaignID, s.now(), delta); err != nil {
		return fmt.Errorf("failed to record conversion analytics: %w", err)
	}

	c, err := s.repo.FindCampaignByID(ctx, result.CampaignID)
	if err != nil {
		return err
	}
	if c.MaxUses != nil && used >= *c.MaxUses {
		if err := s.repo.UpdateCampaignStatus(ctx, c.ID, domain.CampaignCompleted); err != nil {
			return fmt.Errorf("failed to complete capped campaign: %w", err)
		}
		s.logger.Info("campaign completed at usage cap", "campaign_id", c.ID, "used", used)
	}
	return nil
}

// ProcessScheduledCampaigns is the periodic sweep that promotes SCHEDULED
// campaigns whose start has arrived (launching them) and completes ACTIVE
// campaigns whose end has passed.
func (s *CampaignService) ProcessScheduledCampaigns(ctx context.Context) (started, completed int, err error) {
	now := s.now()

	due, err := s.repo.FindScheduledCampaignsDue(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to find due campaigns: %w", err)
	}
	for i := range due {
		c := &due[i]
		if err := s.repo.UpdateCampaignStatus(ctx, c.ID, domain.CampaignActive); err != nil {
			s.logger.Error("campaign promotion failed", "campaign_id", c.ID, "error", err)
			continue
		}
		c.Status = domain.CampaignActive
		if err := s.LaunchCampaign(ctx, c); err != nil {
			s.logger.Error("campaign launch failed", "campaign_id", c.ID, "error", err)
			continue
		}
		started++
	}

	ended, err := s.repo.FindActiveCampaignsEnded(ctx, now)
	if err != nil {
		return started, 0, fmt.Errorf("failed to find ended campaigns: %w", err)
	}
	for i := range ended {
		c := &ended[i]
		if err := s.repo.UpdateCampaignStatus(ctx, c.ID, domain.CampaignCompleted); err != nil {
			s.logger.Error("campaign completion failed", "campaign_id", c.ID, "error", err)
			continue
		}
		completed++
	}
	return started, completed, nil
}

// GetAnalytics returns the daily rollup rows for a campaign over [from, to].
func (s *CampaignService) GetAnalytics(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]domain.CampaignAnalytics, error) {
	if _, err := s.repo.FindCampaignByID(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.repo.FindAnalytics(ctx, campaignID, from, to)
}

var brandedHashtags = []string{"#VerdantNursery", "#PlantLovers", "#GrowWithUs", "#HouseplantsOfInstagram"}

var campaignEmoji = map[domain.CampaignType]string{
	domain.CampaignFlashSale:     "⚡",
	domain.CampaignSeasonal:      "🍂",
	domain.CampaignLoyaltyReward: "💚",
	domain.CampaignWinBack:       "🪴",
	domain.CampaignProductLaunch: "🌱",
	domain.CampaignClearance:     "🏷️",
	domain.CampaignHoliday:       "🎁",
	domain.CampaignCustom:        "🌿",
}

// socialCopy builds the promotional post body: type-specific emoji, a
// templated line, and the discount code when one exists.
func (s *CampaignService) socialCopy(c *domain.Campaign) string {
	emoji, ok := campaignEmoji[c.Type]
	if !ok {
		emoji = "🌿"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s is here! ", emoji, c.Name)
	switch {
	case c.DiscountPct != nil:
		fmt.Fprintf(&b, "Take %.0f%% off your next order.", *c.DiscountPct)
	case c.DiscountCents != nil:
		fmt.Fprintf(&b, "Save $%.2f on your next order.", float64(*c.DiscountCents)/100)
	default:
		b.WriteString("Stop by and see what's growing.")
	}
	if c.DiscountCode != nil {
		fmt.Fprintf(&b, " Use code %s at checkout.", *c.DiscountCode)
	}
	if !c.EndAt.IsZero() {
		fmt.Fprintf(&b, " Ends %s.", c.EndAt.Format("Jan 2"))
	}
	return b.String()
}
