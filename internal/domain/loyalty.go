/**
 * @description
 * This file defines the core domain models for the loyalty ledger: accounts,
 * point transactions, tiers, rewards, and redemptions. These structs map
 * directly to their corresponding database tables.
 *
 * @notes
 * - Monetary amounts are stored as `int64` in cents to avoid floating-point
 *   inaccuracies; points are plain signed int64.
 * - An account's spendable balance is the sum of every transaction's point
 *   delta. All balance mutations flow through the store's append-transaction
 *   primitive, so the two can never drift apart.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates every way points can enter or leave an account.
type TransactionType string

const (
	TxPurchase      TransactionType = "PURCHASE"
	TxSignup        TransactionType = "SIGNUP"
	TxReferralMade  TransactionType = "REFERRAL_MADE"
	TxReferralBonus TransactionType = "REFERRAL_BONUS"
	TxReview        TransactionType = "REVIEW"
	TxBirthday      TransactionType = "BIRTHDAY"
	TxBonus         TransactionType = "BONUS"
	TxRedemption    TransactionType = "REDEMPTION"
	TxExpired       TransactionType = "EXPIRED"
	TxAdjustment    TransactionType = "ADJUSTMENT"
	TxTierBonus     TransactionType = "TIER_BONUS"
)

// Account is a customer's loyalty account, keyed by email. Accounts are
// created on first earn/signup and are never hard-deleted so that the
// transaction history stays attributable.
type Account struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	CustomerID         *string    `json:"customer_id,omitempty"`
	Name               *string    `json:"name,omitempty"`
	PointsBalance      int64      `json:"points_balance"`
	LifetimePoints     int64      `json:"lifetime_points"`
	LifetimeSpentCents int64      `json:"lifetime_spent_cents"`
	TierID             *uuid.UUID `json:"tier_id,omitempty"`
	ReferralCode       string     `json:"referral_code"`
	ReferralCount      int        `json:"referral_count"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Transaction is an immutable ledger entry. Points is the signed delta
// applied to the account balance. ExpiresAt is set only on positive,
// non-redemption entries. SourceTransactionID is set only on EXPIRED
// offsets and references the entry being expired; its presence is the
// guard that prevents the expiry sweep from offsetting an entry twice.
type Transaction struct {
	ID                  uuid.UUID       `json:"id"`
	AccountID           uuid.UUID       `json:"account_id"`
	Type                TransactionType `json:"type"`
	Points              int64           `json:"points"`
	OrderID             *string         `json:"order_id,omitempty"`
	Description         string          `json:"description"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	SourceTransactionID *uuid.UUID      `json:"source_transaction_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Tier is a loyalty membership level unlocked by lifetime points. Tiers are
// seeded once and treated as immutable reference data afterwards.
type Tier struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	MinPoints      int64     `json:"min_points"`
	Multiplier     float64   `json:"multiplier"` // points multiplier, >= 1
	DiscountPct    float64   `json:"discount_pct"`
	FreeShipping   bool      `json:"free_shipping"`
	EarlyAccess    bool      `json:"early_access"`
	BirthdayBonus  int64     `json:"birthday_bonus"`
	Color          string    `json:"color"`
	SortOrder      int       `json:"sort_order"`
}

// RewardType describes what a redeemed reward grants at checkout.
type RewardType string

const (
	RewardFixedDiscount   RewardType = "fixed_discount"
	RewardPercentDiscount RewardType = "percent_discount"
	RewardFreeShipping    RewardType = "free_shipping"
)

// Reward is a redeemable catalog entry. Value is interpreted by Type:
// cents for fixed_discount, whole percent for percent_discount, unused
// for free_shipping.
type Reward struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	PointsCost    int64      `json:"points_cost"`
	Type          RewardType `json:"type"`
	Value         int64      `json:"value"`
	MinOrderCents *int64     `json:"min_order_cents,omitempty"`
	MaxUses       *int       `json:"max_uses,omitempty"`
	UsedCount     int        `json:"used_count"`
	ValidDays     int        `json:"valid_days"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Redemption records a successful reward redemption. PointsSpent is the
// reward's cost at redemption time and never changes, even if the reward's
// cost is later edited.
type Redemption struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	RewardID    uuid.UUID `json:"reward_id"`
	PointsSpent int64     `json:"points_spent"`
	CouponCode  string    `json:"coupon_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"` // 'pending', 'used', 'expired'
	CreatedAt   time.Time `json:"created_at"`
}

// AccountSummary is the read model served to the loyalty dashboard.
type AccountSummary struct {
	Account            *Account      `json:"account"`
	Tier               *Tier         `json:"tier,omitempty"`
	NextTier           *Tier         `json:"next_tier,omitempty"`
	PointsToNextTier   int64         `json:"points_to_next_tier"`
	RecentTransactions []Transaction `json:"recent_transactions"`
	Redemptions        []Redemption  `json:"redemptions"`
}
