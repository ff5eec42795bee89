/**
 * @description
 * This file contains the core business logic for the loyalty ledger. The
 * `LoyaltyService` struct orchestrates account lifecycle, point earning and
 * awarding, referrals, reward redemption, tier evaluation, and point expiry.
 *
 * Key invariants:
 * - Every balance mutation flows through the repository's append-transaction
 *   primitive, so an account's balance always equals the sum of its ledger
 *   entries.
 * - Tier membership is driven by lifetime points and is monotonic: accounts
 *   are promoted, never demoted, even when the spendable balance drops.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - internal/config, internal/domain, internal/store.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/config"
	"github.com/verdantnursery/marketing-service/internal/domain"
	"github.com/verdantnursery/marketing-service/internal/store"
)

var (
	ErrInvalidOrderTotal = errors.New("order total must be positive")
	ErrNoPointsToAward   = errors.New("no points to award")
	ErrInvalidReferral   = errors.New("invalid referral code")
	ErrRewardInactive    = errors.New("reward is not active")
)

// LoyaltyService provides the core business logic for the points ledger.
type LoyaltyService struct {
	repo   store.LoyaltyRepository
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
}

// NewLoyaltyService creates a new loyalty service instance.
func NewLoyaltyService(repo store.LoyaltyRepository, cfg config.Config, logger *slog.Logger) *LoyaltyService {
	return &LoyaltyService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// EarnResult reports the outcome of a point-earning operation.
type EarnResult struct {
	Points        int64           `json:"points"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Account       *domain.Account `json:"account"`
}

// GetOrCreateAccount finds an account by email (or external customer id),
// backfilling the customer id if newly supplied. A brand-new account is
// seeded with the lowest tier and granted the one-time signup bonus.
func (s *LoyaltyService) GetOrCreateAccount(ctx context.Context, email string, customerID, name *string) (*domain.Account, error) {
	account, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil && customerID != nil {
		account, err = s.repo.FindAccountByCustomerID(ctx, *customerID)
		if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
			return nil, fmt.Errorf("failed to look up account by customer id: %w", err)
		}
	}

	if account != nil {
		if account.CustomerID == nil && customerID != nil {
			if err := s.repo.SetAccountCustomerID(ctx, account.ID, *customerID); err != nil {
				return nil, fmt.Errorf("failed to backfill customer id: %w", err)
			}
			account.CustomerID = customerID
		}
		return account, nil
	}

	tiers, err := s.repo.ListTiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	var tierID *uuid.UUID
	if len(tiers) > 0 {
		tierID = &tiers[0].ID
	}

	account = &domain.Account{
		ID:           uuid.New(),
		Email:        strings.ToLower(email),
		CustomerID:   customerID,
		Name:         name,
		TierID:       tierID,
		ReferralCode: generateReferralCode(),
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.logger.Info("loyalty account created", "account_id", account.ID, "email", account.Email)

	if s.cfg.SignupBonusPoints > 0 {
		updated, err := s.append(ctx, account.ID, domain.TxSignup, s.cfg.SignupBonusPoints,
			nil, "Signup bonus")
		if err != nil {
			return nil, fmt.Errorf("failed to grant signup bonus: %w", err)
		}
		account = updated
	}
	return account, nil
}

// EarnPointsFromPurchase converts an order total into points: floor the base
// points, apply the tier multiplier when it exceeds 1, floor again. The
// account's lifetime spend grows by the order total, and tier eligibility is
// re-evaluated afterwards.
func (s *LoyaltyService) EarnPointsFromPurchase(ctx context.Context, email string, orderCents int64, orderID, customerID *string) (*EarnResult, error) {
	if orderCents <= 0 {
		return nil, ErrInvalidOrderTotal
	}

	account, err := s.GetOrCreateAccount(ctx, email, customerID, nil)
	if err != nil {
		return nil, err
	}

	points := int64(math.Floor(float64(orderCents) / 100.0 * s.cfg.PointsPerDollar))
	if account.TierID != nil {
		tier, err := s.repo.FindTierByID(ctx, *account.TierID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tier: %w", err)
		}
		if tier.Multiplier > 1 {
			points = int64(math.Floor(float64(points) * tier.Multiplier))
		}
	}

	txn := s.newTransaction(account.ID, domain.TxPurchase, points,
		fmt.Sprintf("Points earned on order (%.2f)", float64(orderCents)/100.0))
	txn.OrderID = orderID
	updated, err := s.repo.AppendTransaction(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to append purchase transaction: %w", err)
	}

	if err := s.repo.AddLifetimeSpend(ctx, account.ID, orderCents); err != nil {
		return nil, fmt.Errorf("failed to record lifetime spend: %w", err)
	}

	if _, _, err := s.CheckTierUpgrade(ctx, account.ID); err != nil {
		s.logger.Error("tier re-evaluation failed after purchase", "account_id", account.ID, "error", err)
	}

	return &EarnResult{Points: points, TransactionID: txn.ID, Account: updated}, nil
}

// AwardPoints grants non-purchase points. REVIEW, BIRTHDAY, and the two
// referral types fall back to the configured default amounts when no
// explicit amount is given; BIRTHDAY additionally stacks the account's
// tier-specific birthday bonus on top. BONUS, ADJUSTMENT and TIER_BONUS
// use only the explicit amount, and a zero amount is reported as
// ErrNoPointsToAward.
func (s *LoyaltyService) AwardPoints(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, customPoints int64, description string) (*EarnResult, error) {
	points := customPoints
	if points == 0 {
		switch txType {
		case domain.TxReview:
			points = s.cfg.ReviewBonusPoints
		case domain.TxBirthday:
			points = s.cfg.BirthdayBonusPoints
		case domain.TxReferralMade:
			points = s.cfg.ReferrerBonusPoints
		case domain.TxReferralBonus:
			points = s.cfg.ReferredBonusPoints
		}
	}

	if txType == domain.TxBirthday {
		account, err := s.repo.FindAccountByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if account.TierID != nil {
			tier, err := s.repo.FindTierByID(ctx, *account.TierID)
			if err == nil && tier.BirthdayBonus > 0 {
				points += tier.BirthdayBonus
			}
		}
	}

	if points == 0 {
		return nil, ErrNoPointsToAward
	}

	if description == "" {
		description = defaultAwardDescription(txType)
	}
	txn := s.newTransaction(accountID, txType, points, description)
	account, err := s.repo.AppendTransaction(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to award points: %w", err)
	}

	if points > 0 {
		if _, _, err := s.CheckTierUpgrade(ctx, accountID); err != nil {
			s.logger.Error("tier re-evaluation failed after award", "account_id", accountID, "error", err)
		}
	}

	return &EarnResult{Points: points, TransactionID: txn.ID, Account: account}, nil
}

// ReferralResult reports both sides of a processed referral.
type ReferralResult struct {
	ReferrerID     uuid.UUID `json:"referrer_id"`
	ReferrerPoints int64     `json:"referrer_points"`
	ReferredPoints int64     `json:"referred_points"`
}

// ProcessReferral credits the owner of the referral code and the newly
// signed-up account. The caller is responsible for invoking this at most
// once per signup; the ledger itself does not deduplicate referrals.
func (s *LoyaltyService) ProcessReferral(ctx context.Context, newAccountID uuid.UUID, referralCode string) (*ReferralResult, error) {
	referrer, err := s.repo.FindAccountByReferralCode(ctx, referralCode)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrInvalidReferral
		}
		return nil, fmt.Errorf("failed to look up referral code: %w", err)
	}

	made, err := s.AwardPoints(ctx, referrer.ID, domain.TxReferralMade, 0, "Referred a new customer")
	if err != nil {
		return nil, err
	}
	bonus, err := s.AwardPoints(ctx, newAccountID, domain.TxReferralBonus, 0, "Welcome referral bonus")
	if err != nil {
		return nil, err
	}
	if err := s.repo.IncrementReferralCount(ctx, referrer.ID); err != nil {
		return nil, fmt.Errorf("failed to increment referral count: %w", err)
	}

	return &ReferralResult{
		ReferrerID:     referrer.ID,
		ReferrerPoints: made.Points,
		ReferredPoints: bonus.Points,
	}, nil
}

// RedeemResult is returned on a successful reward redemption.
type RedeemResult struct {
	Redemption       *domain.Redemption `json:"redemption"`
	CouponCode       string             `json:"coupon_code"`
	RemainingBalance int64              `json:"remaining_balance"`
}

// RedeemReward debits the reward's point cost, mints a time-limited coupon,
// and bumps the reward's usage count — all as one atomic unit of work.
// Failure modes are distinct: reward not found, reward inactive, reward
// sold out, and insufficient balance (which names the balance and cost).
func (s *LoyaltyService) RedeemReward(ctx context.Context, accountID, rewardID uuid.UUID) (*RedeemResult, error) {
	reward, err := s.repo.FindRewardByID(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if !reward.Active {
		return nil, ErrRewardInactive
	}
	if reward.MaxUses != nil && reward.UsedCount >= *reward.MaxUses {
		return nil, store.ErrRewardSoldOut
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.PointsBalance < reward.PointsCost {
		return nil, fmt.Errorf("insufficient points: balance %d, required %d",
			account.PointsBalance, reward.PointsCost)
	}

	redemption := &domain.Redemption{
		ID:          uuid.New(),
		AccountID:   accountID,
		RewardID:    rewardID,
		PointsSpent: reward.PointsCost,
		CouponCode:  generateCouponCode(),
		ExpiresAt:   s.now().AddDate(0, 0, reward.ValidDays),
		Status:      "pending",
	}
	txn := s.newTransaction(accountID, domain.TxRedemption, -reward.PointsCost,
		fmt.Sprintf("Redeemed reward: %s", reward.Name))

	if err := s.repo.RedeemRewardAtomic(ctx, redemption, txn); err != nil {
		return nil, err
	}
	s.logger.Info("reward redeemed", "account_id", accountID, "reward_id", rewardID,
		"coupon", redemption.CouponCode)

	return &RedeemResult{
		Redemption:       redemption,
		CouponCode:       redemption.CouponCode,
		RemainingBalance: account.PointsBalance - reward.PointsCost,
	}, nil
}

// CheckTierUpgrade promotes the account to the highest tier whose threshold
// its lifetime points meet. Promotions past an existing tier also grant the
// fixed tier-upgrade bonus; the initial tier assignment does not. Downgrades
// never happen here or anywhere else.
func (s *LoyaltyService) CheckTierUpgrade(ctx context.Context, accountID uuid.UUID) (*domain.Tier, bool, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	tiers, err := s.repo.ListTiers(ctx)
	if err != nil {
		return nil, false, err
	}

	var eligible *domain.Tier
	for i := range tiers {
		if tiers[i].MinPoints <= account.LifetimePoints {
			eligible = &tiers[i]
		}
	}
	if eligible == nil {
		return nil, false, nil
	}

	hadTier := account.TierID != nil
	if hadTier {
		current, err := s.repo.FindTierByID(ctx, *account.TierID)
		if err != nil {
			return nil, false, err
		}
		if eligible.MinPoints <= current.MinPoints {
			return current, false, nil
		}
	}

	if err := s.repo.SetAccountTier(ctx, accountID, eligible.ID); err != nil {
		return nil, false, fmt.Errorf("failed to promote tier: %w", err)
	}
	s.logger.Info("tier promotion", "account_id", accountID, "tier", eligible.Name)

	if hadTier && s.cfg.TierUpgradeBonusPoints > 0 {
		txn := s.newTransaction(accountID, domain.TxTierBonus, s.cfg.TierUpgradeBonusPoints,
			fmt.Sprintf("Welcome to the %s tier", eligible.Name))
		if _, err := s.repo.AppendTransaction(ctx, txn); err != nil {
			return nil, false, fmt.Errorf("failed to grant tier bonus: %w", err)
		}
	}
	return eligible, true, nil
}

// ExpirePoints appends an offsetting EXPIRED entry for every positive,
// non-redemption entry whose expiry has passed. The repository only returns
// entries without an existing offset, so a sweep can run any number of
// times without double-expiring. If part of the original grant has already
// been spent, the offset is clamped to the spendable balance.
func (s *LoyaltyService) ExpirePoints(ctx context.Context) (int, error) {
	expirable, err := s.repo.FindExpirableTransactions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to scan for expirable points: %w", err)
	}

	expired := 0
	for _, src := range expirable {
		account, err := s.repo.FindAccountByID(ctx, src.AccountID)
		if err != nil {
			s.logger.Error("expiry: account lookup failed", "account_id", src.AccountID, "error", err)
			continue
		}
		offset := src.Points
		if account.PointsBalance < offset {
			offset = account.PointsBalance
		}

		srcID := src.ID
		txn := s.newTransaction(src.AccountID, domain.TxExpired, -offset,
			fmt.Sprintf("Points expired (earned %s)", src.CreatedAt.Format("2006-01-02")))
		txn.SourceTransactionID = &srcID
		if _, err := s.repo.AppendTransaction(ctx, txn); err != nil {
			s.logger.Error("expiry: append failed", "transaction_id", src.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("points expiry sweep finished", "expired", expired)
	}
	return expired, nil
}

// GetAccountSummary assembles the loyalty dashboard read model.
func (s *LoyaltyService) GetAccountSummary(ctx context.Context, email string) (*domain.AccountSummary, error) {
	account, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	summary := &domain.AccountSummary{Account: account}
	tiers, err := s.repo.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tiers {
		if account.TierID != nil && tiers[i].ID == *account.TierID {
			summary.Tier = &tiers[i]
		} else if summary.NextTier == nil && tiers[i].MinPoints > account.LifetimePoints {
			summary.NextTier = &tiers[i]
		}
	}
	if summary.NextTier != nil {
		summary.PointsToNextTier = summary.NextTier.MinPoints - account.LifetimePoints
	}

	if summary.RecentTransactions, err = s.repo.FindTransactionsByAccount(ctx, account.ID, 20); err != nil {
		return nil, err
	}
	if summary.Redemptions, err = s.repo.FindRedemptionsByAccount(ctx, account.ID, 10); err != nil {
		return nil, err
	}
	return summary, nil
}

// append is a small helper for config-driven grants.
func (s *LoyaltyService) append(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, points int64, orderID *string, description string) (*domain.Account, error) {
	txn := s.newTransaction(accountID, txType, points, description)
	txn.OrderID = orderID
	return s.repo.AppendTransaction(ctx, txn)
}

// newTransaction builds a ledger entry, stamping an expiry on positive,
// non-redemption grants when an expiry window is configured.
func (s *LoyaltyService) newTransaction(accountID uuid.UUID, txType domain.TransactionType, points int64, description string) *domain.Transaction {
	txn := &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Type:        txType,
		Points:      points,
		Description: description,
	}
	if points > 0 && txType != domain.TxRedemption && txType != domain.TxExpired && s.cfg.PointsExpiryDays > 0 {
		expires := s.now().AddDate(0, 0, s.cfg.PointsExpiryDays)
		txn.ExpiresAt = &expires
	}
	return txn
}

func defaultAwardDescription(t domain.TransactionType) string {
	switch t {
	case domain.TxReview:
		return "Product review bonus"
	case domain.TxBirthday:
		return "Happy birthday from the nursery"
	case domain.TxReferralMade:
		return "Referral reward"
	case domain.TxReferralBonus:
		return "Referred signup bonus"
	default:
		return string(t)
	}
}

func generateReferralCode() string {
	return "GROW-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func generateCouponCode() string {
	return "LEAF-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
