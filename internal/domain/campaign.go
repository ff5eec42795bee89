/**
 * @description
 * This file defines the domain models for promotional campaigns and their
 * daily analytics rollups.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType describes the promotional flavour of a campaign.
type CampaignType string

const (
	CampaignFlashSale     CampaignType = "FLASH_SALE"
	CampaignSeasonal      CampaignType = "SEASONAL"
	CampaignLoyaltyReward CampaignType = "LOYALTY_REWARD"
	CampaignWinBack       CampaignType = "WIN_BACK"
	CampaignProductLaunch CampaignType = "PRODUCT_LAUNCH"
	CampaignClearance     CampaignType = "CLEARANCE"
	CampaignHoliday       CampaignType = "HOLIDAY"
	CampaignCustom        CampaignType = "CUSTOM"
)

// CampaignStatus lifecycle: DRAFT -> SCHEDULED | ACTIVE -> COMPLETED,
// with PAUSED reachable from ACTIVE and reactivatable.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

// AudienceFilter selects the contacts a campaign targets. All set filters
// are AND-combined; zero values mean "no restriction".
type AudienceFilter struct {
	Tags                  []string `json:"tags,omitempty"`
	MinPurchaseCount      int      `json:"min_purchase_count,omitempty"`
	DaysSinceLastPurchase int      `json:"days_since_last_purchase,omitempty"`
}

// Campaign is a promotional campaign. Discount is a percent XOR a fixed
// amount in cents; exactly one of DiscountPct / DiscountCents may be set.
type Campaign struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Type          CampaignType   `json:"type"`
	Status        CampaignStatus `json:"status"`
	DiscountCode  *string        `json:"discount_code,omitempty"`
	DiscountPct   *float64       `json:"discount_pct,omitempty"`
	DiscountCents *int64         `json:"discount_cents,omitempty"`
	MinOrderCents *int64         `json:"min_order_cents,omitempty"`
	MaxUses       *int           `json:"max_uses,omitempty"`
	UsedCount     int            `json:"used_count"`
	Audience      AudienceFilter `json:"audience"`
	Channels      []string       `json:"channels"` // email, sms, social, push
	StartAt       time.Time      `json:"start_at"`
	EndAt         time.Time      `json:"end_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasChannel reports whether the campaign publishes on the given channel.
func (c *Campaign) HasChannel(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// CampaignAnalytics is one additive rollup row per (campaign, calendar day).
// Counters are only ever incremented, never overwritten wholesale.
type CampaignAnalytics struct {
	CampaignID       uuid.UUID `json:"campaign_id"`
	Day              time.Time `json:"day"` // date, midnight UTC
	Impressions      int64     `json:"impressions"`
	Clicks           int64     `json:"clicks"`
	Conversions      int64     `json:"conversions"`
	RevenueCents     int64     `json:"revenue_cents"`
	EmailsSent       int64     `json:"emails_sent"`
	EmailsOpened     int64     `json:"emails_opened"`
	EmailsClicked    int64     `json:"emails_clicked"`
	SocialReach      int64     `json:"social_reach"`
	SocialEngagement int64     `json:"social_engagement"`
}

// AnalyticsDelta carries the increments TrackConversion and LaunchCampaign
// apply to a day's rollup row.
type AnalyticsDelta struct {
	Impressions      int64
	Clicks           int64
	Conversions      int64
	RevenueCents     int64
	EmailsSent       int64
	EmailsOpened     int64
	EmailsClicked    int64
	SocialReach      int64
	SocialEngagement int64
}

// Discount is the shape handed back to checkout when a code validates.
type Discount struct {
	Type  string `json:"type"` // 'percent' or 'fixed'
	Value int64  `json:"value"`
}
